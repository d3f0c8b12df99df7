package consistency

import (
	"fmt"
	"strings"

	"github.com/azyu/storyloom/pkg/types"
)

var incapacitatedStatuses = []string{
	"dead", "deceased", "killed", "died", "incapacitated", "comatose",
	"死亡", "已死", "去世", "身亡", "牺牲", "昏迷",
}

// Sentences with these cues may mention a dead character legitimately.
var memorialCues = []string{
	"remember", "memory", "memories", "recalled", "grave", "tomb", "funeral",
	"ghost", "portrait", "mourn", "dream", "the late", "in memory",
	"回忆", "想起", "记得", "墓", "葬礼", "遗像", "梦", "生前", "怀念",
}

// IsIncapacitated reports whether a character status means the character
// cannot act on stage.
func IsIncapacitated(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return false
	}
	for _, st := range incapacitatedStatuses {
		if strings.Contains(s, st) {
			return true
		}
	}
	return false
}

func hasMemorialCue(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, cue := range memorialCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

func checkCharacterBehavior(in Input, sentences []string) []types.ConsistencyIssue {
	var issues []types.ConsistencyIssue
	for _, cs := range in.Characters {
		if !IsIncapacitated(cs.Status) || cs.LastChapter >= in.Chapter || cs.Name == "" {
			continue
		}
		for _, s := range sentences {
			if !strings.Contains(s, cs.Name) || hasMemorialCue(s) {
				continue
			}
			issues = append(issues, types.ConsistencyIssue{
				Category: types.CategoryCharacterBehavior,
				Severity: types.SeverityCritical,
				Chapter:  in.Chapter,
				Description: fmt.Sprintf("%s has status %q since chapter %d but acts in this chapter",
					cs.Name, cs.Status, cs.LastChapter),
				Suggestion: fmt.Sprintf("remove %s from the scene, frame the appearance as memory, or establish a recovery", cs.Name),
				Evidence: types.Evidence{
					Characters: []string{cs.Name},
					Chapters:   []int{cs.LastChapter},
					Excerpt:    excerpt(s),
				},
			})
			break
		}
	}
	return issues
}
