package memory

import (
	"regexp"
	"strings"

	"github.com/azyu/storyloom/internal/consistency"
	"github.com/azyu/storyloom/internal/token"
	"github.com/azyu/storyloom/pkg/types"
)

const (
	// SummaryRunes is the length of a heuristic summary.
	SummaryRunes = 500
	// MaxMarkerKeywords caps the bracketed markers taken as keywords.
	MaxMarkerKeywords = 5
)

var markerPattern = regexp.MustCompile(`【([^】]{1,40})】|\[([^\[\]]{1,40})\]`)

// HeuristicDigest builds a ChapterRecord from a committed chapter without a
// model: the summary is the opening of the text, keywords are the title and
// bracketed markers, and every known character mentioned in the text is
// touched so its state reflects this chapter.
func HeuristicDigest(ch types.Chapter, known []string) ChapterRecord {
	content := strings.TrimSpace(ch.Content)

	rec := ChapterRecord{
		Chapter: ch.Number,
		Summary: types.ChapterSummary{
			Chapter:   ch.Number,
			Title:     ch.Title,
			Summary:   truncateRunes(content, SummaryRunes),
			Keywords:  extractKeywords(ch.Title, content),
			WordCount: token.CountWords(content),
		},
	}

	for _, name := range known {
		if name != "" && strings.Contains(content, name) {
			rec.Summary.Characters = append(rec.Summary.Characters, name)
			rec.CharacterUpdates = append(rec.CharacterUpdates, types.CharacterUpdate{Name: name})
		}
	}

	if days := consistency.DayMarkers(content); len(days) > 0 {
		rec.Day = days[len(days)-1]
	}
	return rec
}

func extractKeywords(title, content string) []string {
	var keywords []string
	seen := make(map[string]bool)
	add := func(kw string) {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			return
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}

	add(title)
	markers := 0
	for _, m := range markerPattern.FindAllStringSubmatch(content, -1) {
		if markers >= MaxMarkerKeywords {
			break
		}
		kw := m[1]
		if kw == "" {
			kw = m[2]
		}
		before := len(keywords)
		add(kw)
		if len(keywords) > before {
			markers++
		}
	}
	return keywords
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
