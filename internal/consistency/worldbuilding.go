package consistency

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/azyu/storyloom/pkg/types"
)

const attributeConnector = `\s*(?:is|was|are|were|:|：|=|是|为)\s*`

func checkWorldbuilding(in Input, sentences []string) []types.ConsistencyIssue {
	var issues []types.ConsistencyIssue
	for _, cs := range in.Characters {
		if cs.Name == "" || len(cs.Attributes) == 0 {
			continue
		}

		keys := make([]string, 0, len(cs.Attributes))
		for k := range cs.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			recorded := strings.TrimSpace(cs.Attributes[key])
			if recorded == "" || strings.TrimSpace(key) == "" {
				continue
			}
			pattern := attributePattern(key)
			for _, s := range sentences {
				if !strings.Contains(s, cs.Name) {
					continue
				}
				m := pattern.FindStringSubmatch(s)
				if m == nil {
					continue
				}
				stated := strings.TrimSpace(m[1])
				if stated == "" || containsFold(stated, recorded) || containsFold(recorded, stated) {
					continue
				}
				issues = append(issues, types.ConsistencyIssue{
					Category: types.CategoryWorldbuilding,
					Severity: types.SeverityCritical,
					Chapter:  in.Chapter,
					Description: fmt.Sprintf("%s's %s is stated as %q but was established as %q",
						cs.Name, key, stated, recorded),
					Suggestion: fmt.Sprintf("keep %s's %s as %q or record the change explicitly", cs.Name, key, recorded),
					Evidence: types.Evidence{
						Characters: []string{cs.Name},
						Chapters:   []int{cs.LastChapter},
						Excerpt:    excerpt(s),
					},
				})
				break
			}
		}
	}
	return issues
}

func attributePattern(key string) *regexp.Regexp {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(words, `\s+`) + attributeConnector + `([^,.;!?，。；！？]{1,40})`)
}
