package consistency

import (
	"fmt"
	"strings"

	"github.com/azyu/storyloom/pkg/types"
)

// Phrases that introduce an outcome without a cause.
var unmotivatedCues = []string{
	"suddenly", "for no reason", "inexplicably", "somehow", "out of nowhere",
	"突然", "莫名其妙", "毫无理由", "不知为何",
}

func checkLogic(in Input, sentences []string) []types.ConsistencyIssue {
	var issues []types.ConsistencyIssue
	for _, cue := range unmotivatedCues {
		for _, s := range sentences {
			if !containsFold(s, cue) || supportedByHistory(s, in.Events, in.Characters) {
				continue
			}
			issues = append(issues, types.ConsistencyIssue{
				Category:    types.CategoryLogic,
				Severity:    types.SeverityWarning,
				Chapter:     in.Chapter,
				Description: fmt.Sprintf("%q introduces an outcome with no established cause", cue),
				Suggestion:  "foreshadow the turn earlier or show what causes it",
				Evidence:    types.Evidence{Excerpt: excerpt(s)},
			})
			break
		}
	}
	return issues
}

// supportedByHistory reports whether the sentence refers to a recorded plot
// event or a known character, either of which counts as the setup for a
// sudden turn.
func supportedByHistory(sentence string, events []types.PlotEvent, characters []types.CharacterState) bool {
	for _, ev := range events {
		for _, kw := range ev.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" && containsFold(sentence, kw) {
				return true
			}
		}
	}
	for _, cs := range characters {
		if name := strings.TrimSpace(cs.Name); name != "" && containsFold(sentence, name) {
			return true
		}
	}
	return false
}
