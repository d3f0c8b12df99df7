package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/azyu/storyloom/internal/memory"
	"github.com/azyu/storyloom/internal/token"
	"github.com/azyu/storyloom/pkg/types"
)

// ErrMalformedResponse is returned when a structured response cannot be parsed.
var ErrMalformedResponse = errors.New("malformed model response")

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON returns the JSON object in a model reply. It accepts a bare
// object, an object in a fenced code block, or the outermost braces of
// surrounding prose.
func ExtractJSON(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return []byte(s), nil
	}
	if m := fencedJSON.FindStringSubmatch(s); m != nil && json.Valid([]byte(m[1])) {
		return []byte(m[1]), nil
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		if candidate := s[i : j+1]; json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}
	return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
}

// parseScorecard decodes a review reply.
func parseScorecard(content string) (types.Scorecard, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return types.Scorecard{}, err
	}

	var card types.Scorecard
	if err := json.Unmarshal(raw, &card); err != nil {
		return types.Scorecard{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if card.Scores == (types.Scores{}) {
		return types.Scorecard{}, fmt.Errorf("%w: missing scores", ErrMalformedResponse)
	}
	return card, nil
}

// rawDigest matches the JSON requested by the digest prompt.
type rawDigest struct {
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Characters []struct {
		Name          string            `json:"name"`
		Location      string            `json:"location"`
		Status        string            `json:"status"`
		Relationships map[string]string `json:"relationships"`
		Attributes    map[string]string `json:"attributes"`
	} `json:"characters"`
	Events []struct {
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Characters  []string `json:"characters"`
		Keywords    []string `json:"keywords"`
	} `json:"events"`
	ResolvedEventIDs []string `json:"resolved_event_ids"`
	Day              int      `json:"day"`
}

// parseDigest decodes a digest reply into a memory record. Events of an
// unknown type and characters without a name are dropped.
func parseDigest(content string, ch types.Chapter) (memory.ChapterRecord, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return memory.ChapterRecord{}, err
	}

	var d rawDigest
	if err := json.Unmarshal(raw, &d); err != nil {
		return memory.ChapterRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(d.Summary) == "" {
		return memory.ChapterRecord{}, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}

	rec := memory.ChapterRecord{
		Chapter: ch.Number,
		Summary: types.ChapterSummary{
			Chapter:   ch.Number,
			Title:     ch.Title,
			Summary:   strings.TrimSpace(d.Summary),
			Keywords:  compact(d.Keywords),
			WordCount: token.CountWords(ch.Content),
		},
		ResolvedEventIDs: compact(d.ResolvedEventIDs),
		Day:              max(d.Day, 0),
	}

	for _, c := range d.Characters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		u := types.CharacterUpdate{
			Name:          name,
			Relationships: c.Relationships,
			Attributes:    c.Attributes,
		}
		if loc := strings.TrimSpace(c.Location); loc != "" {
			u.Location = &loc
		}
		if st := strings.TrimSpace(c.Status); st != "" {
			u.Status = &st
		}
		rec.CharacterUpdates = append(rec.CharacterUpdates, u)
		rec.Summary.Characters = append(rec.Summary.Characters, name)
	}

	for _, e := range d.Events {
		ev := types.PlotEvent{
			Type:        types.EventType(strings.ToLower(strings.TrimSpace(e.Type))),
			Description: strings.TrimSpace(e.Description),
			Chapter:     ch.Number,
			Characters:  compact(e.Characters),
			Keywords:    compact(e.Keywords),
		}
		if !ev.Type.Valid() || ev.Description == "" {
			continue
		}
		rec.Events = append(rec.Events, ev)
	}
	return rec, nil
}

// compact trims entries and drops blanks and duplicates.
func compact(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
