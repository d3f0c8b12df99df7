// Package llm implements the model-backed production collaborators.
package llm

import (
	"context"
	"errors"
)

// Common errors returned by LLM providers.
var (
	// ErrContextTooLong is returned when the input exceeds the model's context window.
	ErrContextTooLong = errors.New("context length exceeds model maximum")

	// ErrRateLimited is returned when the API rate limit has been exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrServerError is returned for transient 5xx failures.
	ErrServerError = errors.New("server error")

	// ErrAPIError is returned when the API returns an unexpected error.
	ErrAPIError = errors.New("API error")

	// ErrInvalidAPIKey is returned when the API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("invalid or missing API key")

	// ErrModelNotFound is returned when the requested model is not available.
	ErrModelNotFound = errors.New("model not found")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty response")
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReason constants for response completion reasons.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonContentFilter = "content_filter"
)

// Provider is a chat-completion backend. Implementations must be safe for
// concurrent use and must not retry; retries belong to the caller.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Model() string
	Close() error
}

// ChatRequest represents a request to the chat API.
type ChatRequest struct {
	Messages []ChatMessage

	// MaxTokens is the maximum number of tokens to generate; 0 uses the
	// provider default.
	MaxTokens int

	// Temperature controls randomness in the response (0.0-2.0).
	Temperature float64

	// JSON asks the provider to constrain output to a JSON object.
	JSON bool

	Stop []string
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResponse represents the complete response from a chat request.
type ChatResponse struct {
	Message      ChatMessage
	Usage        TokenUsage
	FinishReason string
	Model        string
}

// TokenUsage contains token usage statistics for a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// IsRetryable reports whether a provider error is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}
