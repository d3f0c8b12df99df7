package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/internal/review"
	"github.com/azyu/storyloom/pkg/types"
)

// ============================================================================
// Test Helpers
// ============================================================================

// scriptedProvider replays a fixed sequence of replies and errors.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []reply
	requests []ChatRequest
	block    bool
}

type reply struct {
	content string
	err     error
}

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	block := p.block
	var r reply
	if len(p.replies) > 0 {
		r = p.replies[0]
		p.replies = p.replies[1:]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &ChatResponse{
		Message: ChatMessage{Role: RoleAssistant, Content: r.content},
		Model:   "test-model",
	}, nil
}

func (p *scriptedProvider) Model() string { return "test-model" }
func (p *scriptedProvider) Close() error  { return nil }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func testConfig() types.ProductionConfig {
	cfg := types.DefaultProductionConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.CallTimeout = time.Second
	cfg.RequestsPerMinute = 0
	return cfg
}

// newTestCollaborator records backoff delays instead of sleeping.
func newTestCollaborator(p Provider, cfg types.ProductionConfig) (*Collaborator, *[]time.Duration) {
	c := NewCollaborator(p, cfg, WithProject("River Song", "fantasy"))
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return c, &delays
}

func generationRequest() production.GenerationRequest {
	return production.GenerationRequest{
		Chapter: 4,
		Title:   "The Ford",
		Outline: types.OutlineEntry{Number: 4, Title: "The Ford", Plan: "Mara crosses the river at night.", Characters: []string{"Mara"}},
		Context: types.Context{
			Chapter: 4,
			Summaries: []types.ChapterSummary{
				{Chapter: 3, Title: "The Camp", Summary: "Mara argues with Tomas."},
			},
			Characters: []types.CharacterState{
				{Name: "Mara", LastChapter: 3, Status: "wounded", Location: "camp"},
			},
			Events: []types.PlotEvent{
				{ID: "ev-1", Type: types.EventForeshadow, Chapter: 2, Description: "a bell rings underwater"},
			},
			LastDay: 12,
		},
		Length:      production.LengthBand{Min: 3000, Target: 4000, Max: 5000},
		Temperature: 0.8,
		Style:       types.WritingConfig{Style: "spare", POV: "first-person", Tense: "present"},
	}
}

// ============================================================================
// Retry Policy Tests
// ============================================================================

// TestCall_RetriesTransientErrors tests that rate limits and server errors are retried.
func TestCall_RetriesTransientErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "rate limited", err: fmt.Errorf("%w: slow down", ErrRateLimited)},
		{name: "server error", err: fmt.Errorf("%w: 503", ErrServerError)},
		{name: "empty response", err: ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{replies: []reply{{err: tt.err}, {content: "The river was cold."}}}
			c, delays := newTestCollaborator(p, testConfig())

			out, err := c.Generate(context.Background(), generationRequest())
			require.NoError(t, err)
			assert.Equal(t, "The river was cold.", out)
			assert.Equal(t, 2, p.calls())
			assert.Len(t, *delays, 1)
		})
	}
}

// TestCall_DoesNotRetryPermanentErrors tests that auth and model errors fail fast.
func TestCall_DoesNotRetryPermanentErrors(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: fmt.Errorf("%w: bad key", ErrInvalidAPIKey)}}}
	c, _ := newTestCollaborator(p, testConfig())

	_, err := c.Generate(context.Background(), generationRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.Equal(t, 1, p.calls())
}

// TestCall_GivesUpAfterMaxRetries tests the attempt bound and exponential backoff.
func TestCall_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Second

	p := &scriptedProvider{}
	for range 4 {
		p.replies = append(p.replies, reply{err: ErrServerError})
	}
	c, delays := newTestCollaborator(p, cfg)

	_, err := c.Generate(context.Background(), generationRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), "giving up after 4 attempts")
	assert.Equal(t, 4, p.calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

// TestCall_PerAttemptTimeout tests that a hung call is cut off and retried.
func TestCall_PerAttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1

	p := &scriptedProvider{block: true}
	c, _ := newTestCollaborator(p, cfg)

	_, err := c.Generate(context.Background(), generationRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, p.calls())
}

// TestCall_CancellationStopsRetries tests that a cancelled run is not retried.
func TestCall_CancellationStopsRetries(t *testing.T) {
	p := &scriptedProvider{block: true}
	c, _ := newTestCollaborator(p, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := c.Generate(ctx, generationRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls())
}

// TestBackoff tests the doubling and the cap.
func TestBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = 5 * time.Second
	c := NewCollaborator(&scriptedProvider{}, cfg)

	assert.Equal(t, 5*time.Second, c.backoff(1))
	assert.Equal(t, 10*time.Second, c.backoff(2))
	assert.Equal(t, 20*time.Second, c.backoff(3))
	assert.Equal(t, maxBackoff, c.backoff(10))
}

// ============================================================================
// Collaborator Tests
// ============================================================================

// TestGenerate_BuildsPrompt tests that the outline, memory and style reach the model.
func TestGenerate_BuildsPrompt(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{content: "  Chapter text.  "}}}
	c, _ := newTestCollaborator(p, testConfig())

	out, err := c.Generate(context.Background(), generationRequest())
	require.NoError(t, err)
	assert.Equal(t, "Chapter text.", out)

	req := p.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, 0.8, req.Temperature)
	assert.Equal(t, 10000, req.MaxTokens)
	assert.False(t, req.JSON)

	system := req.Messages[0].Content
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Contains(t, system, `fantasy novel titled "River Song"`)
	assert.Contains(t, system, "- Point of view: first-person")

	user := req.Messages[1].Content
	for _, want := range []string{
		`Write chapter 4: "The Ford"`,
		"Mara crosses the river at night.",
		"Characters on stage: Mara.",
		"Between 3000 and 5000 words, aiming for about 4000.",
		"### Chapter 3: The Camp",
		"- Mara (as of chapter 3); status: wounded; location: camp",
		"- [ev-1] foreshadow from chapter 2: a bell rings underwater",
		"day 12",
	} {
		assert.Contains(t, user, want)
	}
}

// TestRevise_NumbersFeedback tests that feedback keeps its order in the prompt.
func TestRevise_NumbersFeedback(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{content: "Revised."}}}
	c, _ := newTestCollaborator(p, testConfig())

	_, err := c.Revise(context.Background(), production.RevisionRequest{
		Chapter:  2,
		Title:    "Smoke",
		Content:  "Old draft.",
		Feedback: []string{"[critical/timeline] day went backwards", "[prose] too many adverbs"},
		Length:   production.LengthBand{Min: 10, Target: 20, Max: 30},
	})
	require.NoError(t, err)

	user := p.requests[0].Messages[1].Content
	assert.Contains(t, user, "1. [critical/timeline] day went backwards\n2. [prose] too many adverbs")
	assert.Contains(t, user, "Old draft.")
}

// TestScore_ParsesScorecard tests fenced JSON and retry on malformed replies.
func TestScore_ParsesScorecard(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{content: "I think it is fine."},
		{content: "Here you go:\n```json\n" +
			`{"scores": {"logic": 81, "character": 72, "plot": 90, "prose": 65},` +
			` "dimension_feedback": {"prose": "trim the opening"}, "comment": "good", "resolved_event_ids": ["ev-1"]}` +
			"\n```"},
	}}
	c, _ := newTestCollaborator(p, testConfig())

	card, err := c.Score(context.Background(), review.Draft{
		Chapter: 5,
		Title:   "Bells",
		Content: "The bell rang.",
		Issues:  []types.ConsistencyIssue{{Severity: types.SeverityWarning, Category: types.CategoryLogic, Description: "odd jump"}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.Scores{Logic: 81, Character: 72, Plot: 90, Prose: 65}, card.Scores)
	assert.Equal(t, "trim the opening", card.DimensionFeedback[types.DimensionProse])
	assert.Equal(t, []string{"ev-1"}, card.ResolvedEventIDs)
	assert.Equal(t, 2, p.calls())

	req := p.requests[0]
	assert.True(t, req.JSON)
	assert.Contains(t, req.Messages[1].Content, "- [warning/logic] odd jump")
}

// TestDigest_ConvertsRecord tests the digest reply conversion.
func TestDigest_ConvertsRecord(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{content: `{
		"summary": "Mara crosses the ford and loses her map.",
		"keywords": ["ford", " map ", "ford", ""],
		"characters": [
			{"name": "Mara", "location": "north bank", "status": "", "attributes": {"rank": "scout"}},
			{"name": "  "}
		],
		"events": [
			{"type": "Foreshadow", "description": "a light on the far hill"},
			{"type": "cliffhanger", "description": "unknown type"}
		],
		"resolved_event_ids": ["ev-1"],
		"day": 13
	}`}}}
	c, _ := newTestCollaborator(p, testConfig())

	ch := types.Chapter{Number: 4, Title: "The Ford", Content: "Mara crossed the ford."}
	rec, err := c.Digest(context.Background(), production.DigestRequest{Chapter: ch, KnownCharacters: []string{"Mara"}})
	require.NoError(t, err)

	assert.Equal(t, 4, rec.Chapter)
	assert.Equal(t, "The Ford", rec.Summary.Title)
	assert.Equal(t, []string{"ford", "map"}, rec.Summary.Keywords)
	assert.Equal(t, []string{"Mara"}, rec.Summary.Characters)
	assert.Equal(t, 13, rec.Day)
	assert.Equal(t, []string{"ev-1"}, rec.ResolvedEventIDs)

	require.Len(t, rec.CharacterUpdates, 1)
	u := rec.CharacterUpdates[0]
	require.NotNil(t, u.Location)
	assert.Equal(t, "north bank", *u.Location)
	assert.Nil(t, u.Status, "blank status leaves the recorded one alone")
	assert.Equal(t, "scout", u.Attributes["rank"])

	require.Len(t, rec.Events, 1)
	assert.Equal(t, types.EventForeshadow, rec.Events[0].Type)
	assert.Equal(t, 4, rec.Events[0].Chapter)
}

// ============================================================================
// Parser Tests
// ============================================================================

// TestExtractJSON tests the accepted reply shapes.
func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "bare object", content: `{"a": 1}`, want: `{"a": 1}`},
		{name: "fenced", content: "text\n```json\n{\"a\": 2}\n```\nmore", want: `{"a": 2}`},
		{name: "unlabelled fence", content: "```\n{\"a\": 3}\n```", want: `{"a": 3}`},
		{name: "embedded in prose", content: `Sure! {"a": {"b": 4}} Hope that helps.`, want: `{"a": {"b": 4}}`},
		{name: "no object", content: "no json here", wantErr: true},
		{name: "broken object", content: `{"a": `, wantErr: true},
		{name: "array is not an object", content: `[1, 2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

// TestParseScorecard_MissingScores tests that an empty scorecard is rejected.
func TestParseScorecard_MissingScores(t *testing.T) {
	_, err := parseScorecard(`{"comment": "nice"}`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

// ============================================================================
// Prompt Tests
// ============================================================================

// TestSystemPromptBuilder tests prompt assembly.
func TestSystemPromptBuilder(t *testing.T) {
	prompt := NewSystemPromptBuilder().
		AddRole("You are a writer.").
		AddProjectInfo("Ash", "").
		AddWritingStyle(types.WritingConfig{Tense: "past"}).
		AddContext("").
		AddInstructions("Be brief.").
		Build()

	assert.Equal(t, "You are a writer.\n\nThe story is titled \"Ash\".\n\nWriting guidelines:\n- Tense: past\n\nBe brief.", prompt)
}

// TestRenderContext_Empty tests that an empty context renders nothing.
func TestRenderContext_Empty(t *testing.T) {
	out, err := renderContext(types.Context{Chapter: 1})
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

// TestIsRetryable tests error classification.
func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("%w: x", ErrRateLimited)))
	assert.True(t, IsRetryable(fmt.Errorf("%w: x", ErrServerError)))
	assert.False(t, IsRetryable(ErrInvalidAPIKey))
	assert.False(t, IsRetryable(ErrContextTooLong))
	assert.False(t, IsRetryable(errors.New("other")))
}
