package memory

import (
	"iter"
	"slices"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/azyu/storyloom/pkg/types"
)

// Search returns the retained summaries that match keyword, most recent
// chapter first. A summary matches when its title, text, keywords or
// characters contain the keyword, or when a plot event originating in that
// chapter carries a matching keyword. Matching is case-insensitive.
//
// The sequence is finite and each range over it re-reads the result set
// captured when Search was called.
func (s *Store) Search(keyword string) iter.Seq[types.ChapterSummary] {
	key := strings.ToLower(strings.TrimSpace(keyword))
	results := s.searchResults(key)

	return func(yield func(types.ChapterSummary) bool) {
		for _, cs := range results {
			if !yield(cloneSummary(cs)) {
				return
			}
		}
	}
}

func (s *Store) searchResults(key string) []types.ChapterSummary {
	if key == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if cached, ok := s.results.Get(key); ok {
		return cached.([]types.ChapterSummary)
	}

	hits := make(map[int]bool)
	for _, cs := range s.st.summaries {
		if summaryMatches(cs, key) {
			hits[cs.Chapter] = true
		}
	}
	for _, ev := range s.st.events {
		for _, kw := range ev.Keywords {
			if strings.Contains(strings.ToLower(kw), key) {
				hits[ev.Chapter] = true
				break
			}
		}
	}

	var out []types.ChapterSummary
	for _, cs := range slices.Backward(s.st.summaries) {
		if hits[cs.Chapter] {
			out = append(out, cs)
		}
	}

	s.results.Set(key, out, cache.DefaultExpiration)
	return out
}

func summaryMatches(cs types.ChapterSummary, key string) bool {
	if strings.Contains(strings.ToLower(cs.Title), key) ||
		strings.Contains(strings.ToLower(cs.Summary), key) {
		return true
	}
	for _, kw := range cs.Keywords {
		if strings.Contains(strings.ToLower(kw), key) {
			return true
		}
	}
	for _, name := range cs.Characters {
		if strings.Contains(strings.ToLower(name), key) {
			return true
		}
	}
	return false
}
