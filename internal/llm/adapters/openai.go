// Package adapters provides LLM provider implementations.
package adapters

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/azyu/storyloom/internal/llm"
)

// OpenAIAdapter implements llm.Provider for the OpenAI API and for
// OpenAI-compatible local servers such as Ollama, LM Studio or vLLM.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

// OpenAIConfig holds configuration for the OpenAI adapter.
type OpenAIConfig struct {
	// BaseURL overrides the default API URL (for Azure or compatible APIs).
	BaseURL string

	// Organization is the optional OpenAI organization ID.
	Organization string
}

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*OpenAIConfig)

// WithOpenAIBaseURL sets a custom base URL.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(c *OpenAIConfig) {
		c.BaseURL = baseURL
	}
}

// WithOpenAIOrganization sets the organization ID.
func WithOpenAIOrganization(org string) OpenAIOption {
	return func(c *OpenAIConfig) {
		c.Organization = org
	}
}

// NewOpenAIAdapter creates a new OpenAI adapter. The API key may be empty
// only when a base URL points at a local server.
func NewOpenAIAdapter(apiKey, model string, opts ...OpenAIOption) (*OpenAIAdapter, error) {
	var config OpenAIConfig
	for _, opt := range opts {
		opt(&config)
	}

	if apiKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("%w: API key is required", llm.ErrInvalidAPIKey)
	}
	if model == "" {
		model = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Organization != "" {
		clientConfig.OrgID = config.Organization
	}

	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Chat sends a single chat completion request.
func (a *OpenAIAdapter) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := a.client.CreateChatCompletion(ctx, a.buildRequest(req))
	if err != nil {
		return nil, a.handleError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		},
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}, nil
}

// Model returns the current model name.
func (a *OpenAIAdapter) Model() string {
	return a.model
}

// Close releases resources held by the adapter.
func (a *OpenAIAdapter) Close() error {
	return nil
}

func (a *OpenAIAdapter) buildRequest(req llm.ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	openAIReq := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
		Stop:     req.Stop,
	}
	if req.MaxTokens > 0 {
		openAIReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		openAIReq.Temperature = float32(req.Temperature)
	}
	if req.JSON {
		openAIReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return openAIReq
}

// handleError converts OpenAI errors to llm error types.
func (a *OpenAIAdapter) handleError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request canceled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401:
			return fmt.Errorf("%w: %s", llm.ErrInvalidAPIKey, apiErr.Message)
		case 404:
			return fmt.Errorf("%w: %s", llm.ErrModelNotFound, apiErr.Message)
		case 429:
			return fmt.Errorf("%w: %s", llm.ErrRateLimited, apiErr.Message)
		case 400:
			if apiErr.Code == "context_length_exceeded" {
				return fmt.Errorf("%w: %s", llm.ErrContextTooLong, apiErr.Message)
			}
			return fmt.Errorf("%w: %s", llm.ErrAPIError, apiErr.Message)
		case 500, 502, 503, 504:
			return fmt.Errorf("%w: %s", llm.ErrServerError, apiErr.Message)
		default:
			return fmt.Errorf("%w: HTTP %d - %s", llm.ErrAPIError, apiErr.HTTPStatusCode, apiErr.Message)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %s", llm.ErrServerError, reqErr.Error())
		}
		return fmt.Errorf("%w: %s", llm.ErrAPIError, reqErr.Error())
	}

	return fmt.Errorf("%w: %s", llm.ErrAPIError, err.Error())
}

var _ llm.Provider = (*OpenAIAdapter)(nil)
