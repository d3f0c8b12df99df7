package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/azyu/storyloom/internal/memory"
	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/internal/review"
	"github.com/azyu/storyloom/internal/token"
	"github.com/azyu/storyloom/pkg/types"
)

const (
	// maxBackoff caps the delay between retries.
	maxBackoff = 2 * time.Minute

	scoreTemperature  = 0.2
	digestTemperature = 0.2
	structuredTokens  = 2048
)

// Collaborator implements the production collaborators on top of a chat
// provider. Every call waits on a shared rate limiter, is bounded by the
// call timeout and is retried with exponential backoff on transient errors.
type Collaborator struct {
	provider Provider
	cfg      types.ProductionConfig
	limiter  *rate.Limiter
	counter  *token.Counter
	logger   *zap.Logger
	project  string
	genre    string
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Collaborator.
type Option func(*Collaborator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collaborator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCounter enables prompt truncation to the model's context window.
func WithCounter(counter *token.Counter) Option {
	return func(c *Collaborator) {
		c.counter = counter
	}
}

// WithProject names the story in system prompts.
func WithProject(name, genre string) Option {
	return func(c *Collaborator) {
		c.project = name
		c.genre = genre
	}
}

// NewCollaborator creates a collaborator. Retry, timeout and rate settings
// come from the production configuration.
func NewCollaborator(provider Provider, cfg types.ProductionConfig, opts ...Option) *Collaborator {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	c := &Collaborator{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("llm")
	return c
}

var (
	_ production.Generator = (*Collaborator)(nil)
	_ production.Reviser   = (*Collaborator)(nil)
	_ production.Digester  = (*Collaborator)(nil)
	_ review.Scorer        = (*Collaborator)(nil)
)

// Generate drafts a chapter.
func (c *Collaborator) Generate(ctx context.Context, req production.GenerationRequest) (string, error) {
	memoryText, err := renderContext(req.Context)
	if err != nil {
		return "", err
	}
	task, err := render("generate", req)
	if err != nil {
		return "", err
	}

	maxTokens := token.ResponseTokens(req.Length.Max)
	system := c.systemPrompt(writerRole, req.Style)
	user := c.fit(system, maxTokens,
		token.Section{Name: "task", Text: task, Priority: 0},
		token.Section{Name: "memory", Text: memoryText, Priority: 1, KeepEnd: true},
	)

	return c.call(ctx, "generate", ChatRequest{
		Messages:    []ChatMessage{NewSystemMessage(system), NewUserMessage(user)},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}, nil)
}

// Revise rewrites a draft against ordered feedback.
func (c *Collaborator) Revise(ctx context.Context, req production.RevisionRequest) (string, error) {
	memoryText, err := renderContext(req.Context)
	if err != nil {
		return "", err
	}
	task, err := render("revise", req)
	if err != nil {
		return "", err
	}

	maxTokens := token.ResponseTokens(req.Length.Max)
	system := c.systemPrompt(writerRole, req.Style)
	user := c.fit(system, maxTokens,
		token.Section{Name: "task", Text: task, Priority: 0},
		token.Section{Name: "memory", Text: memoryText, Priority: 1, KeepEnd: true},
	)

	return c.call(ctx, "revise", ChatRequest{
		Messages:    []ChatMessage{NewSystemMessage(system), NewUserMessage(user)},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}, nil)
}

// Score rates a draft on every review dimension.
func (c *Collaborator) Score(ctx context.Context, d review.Draft) (types.Scorecard, error) {
	memoryText, err := renderContext(d.Context)
	if err != nil {
		return types.Scorecard{}, err
	}
	task, err := render("review", d)
	if err != nil {
		return types.Scorecard{}, err
	}

	system := c.systemPrompt(editorRole, types.WritingConfig{})
	user := c.fit(system, structuredTokens,
		token.Section{Name: "task", Text: task, Priority: 0},
		token.Section{Name: "memory", Text: memoryText, Priority: 1, KeepEnd: true},
	)

	var card types.Scorecard
	_, err = c.call(ctx, "score", ChatRequest{
		Messages:    []ChatMessage{NewSystemMessage(system), NewUserMessage(user)},
		MaxTokens:   structuredTokens,
		Temperature: scoreTemperature,
		JSON:        true,
	}, func(content string) error {
		var perr error
		card, perr = parseScorecard(content)
		return perr
	})
	return card, err
}

// Digest extracts the memory record of a committed chapter.
func (c *Collaborator) Digest(ctx context.Context, req production.DigestRequest) (memory.ChapterRecord, error) {
	task, err := render("digest", req)
	if err != nil {
		return memory.ChapterRecord{}, err
	}

	system := c.systemPrompt(archivistRole, types.WritingConfig{})
	user := c.fit(system, structuredTokens, token.Section{Name: "task", Text: task})

	var rec memory.ChapterRecord
	_, err = c.call(ctx, "digest", ChatRequest{
		Messages:    []ChatMessage{NewSystemMessage(system), NewUserMessage(user)},
		MaxTokens:   structuredTokens,
		Temperature: digestTemperature,
		JSON:        true,
	}, func(content string) error {
		var perr error
		rec, perr = parseDigest(content, req.Chapter)
		return perr
	})
	return rec, err
}

func (c *Collaborator) systemPrompt(role string, style types.WritingConfig) string {
	return NewSystemPromptBuilder().
		AddRole(role).
		AddProjectInfo(c.project, c.genre).
		AddWritingStyle(style).
		Build()
}

// fit joins prompt sections, truncating lower-priority ones so the prompt
// and the response fit the model's context window.
func (c *Collaborator) fit(system string, responseTokens int, sections ...token.Section) string {
	if c.counter != nil {
		budget := token.NewPromptBudget(c.provider.Model(), responseTokens+c.counter.Count(system))
		sections = budget.Fit(c.counter, sections)
	}

	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// call sends req with rate limiting, a per-attempt timeout and retries.
// When accept is set it validates the reply; a rejected reply is retried
// like a transient error.
func (c *Collaborator) call(ctx context.Context, op string, req ChatRequest, accept func(string) error) (string, error) {
	attempts := c.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("retrying model call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		content, err := c.attempt(ctx, req, accept)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if !retryable(err) {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}

	return "", fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, lastErr)
}

func (c *Collaborator) attempt(ctx context.Context, req ChatRequest, accept func(string) error) (string, error) {
	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Chat(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("call timed out after %s: %w", c.cfg.CallTimeout, context.DeadlineExceeded)
		}
		return "", err
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	if accept != nil {
		if err := accept(content); err != nil {
			return "", err
		}
	}

	c.logger.Debug("model call finished",
		zap.String("model", resp.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.String("finish_reason", resp.FinishReason),
	)
	return content, nil
}

// backoff returns the delay before retry n (1-based): retry_delay doubled
// for every earlier retry, capped at maxBackoff.
func (c *Collaborator) backoff(n int) time.Duration {
	d := c.cfg.RetryDelay
	for i := 1; i < n && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

func retryable(err error) bool {
	return IsRetryable(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, ErrMalformedResponse)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
