package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/azyu/storyloom/internal/llm"
)

// GeminiAdapter implements llm.Provider for Google's Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

// NewGeminiAdapter creates a new GeminiAdapter.
func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, llm.ErrInvalidAPIKey
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiAdapter{client: client, model: model}, nil
}

// Chat sends a single generate-content request.
func (a *GeminiAdapter) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	contents, systemInstruction := convertMessages(req.Messages)

	result, err := a.client.Models.GenerateContent(ctx, a.model, contents, buildConfig(req, systemInstruction))
	if err != nil {
		return nil, wrapGeminiError(err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: no candidates in response", llm.ErrEmptyResponse)
	}

	resp := &llm.ChatResponse{
		Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: text},
		Model:   a.model,
	}
	if len(result.Candidates) > 0 {
		resp.FinishReason = convertFinishReason(result.Candidates[0].FinishReason)
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.TokenUsage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

// Model returns the name of the model being used.
func (a *GeminiAdapter) Model() string {
	return a.model
}

// Close releases resources held by the adapter.
func (a *GeminiAdapter) Close() error {
	return nil
}

// convertMessages splits chat messages into Gemini contents and a system
// instruction. Multiple system messages are joined.
func convertMessages(messages []llm.ChatMessage) ([]*genai.Content, *genai.Content) {
	var system []string
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	if len(system) == 0 {
		return contents, nil
	}
	return contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
}

func buildConfig(req llm.ChatRequest, systemInstruction *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}

	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	config.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
	}
	return config
}

func convertFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return llm.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return llm.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist:
		return llm.FinishReasonContentFilter
	default:
		return string(reason)
	}
}

// wrapGeminiError maps Gemini errors onto llm error types.
func wrapGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "API key"):
		return fmt.Errorf("%w: %s", llm.ErrInvalidAPIKey, errStr)
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "429") || strings.Contains(errStr, "RESOURCE_EXHAUSTED"):
		return fmt.Errorf("%w: %s", llm.ErrRateLimited, errStr)
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "503") || strings.Contains(errStr, "UNAVAILABLE"):
		return fmt.Errorf("%w: %s", llm.ErrServerError, errStr)
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "404"):
		return fmt.Errorf("%w: %s", llm.ErrModelNotFound, errStr)
	case strings.Contains(errStr, "context") && strings.Contains(errStr, "token"):
		return fmt.Errorf("%w: %s", llm.ErrContextTooLong, errStr)
	default:
		return fmt.Errorf("%w: %s", llm.ErrAPIError, errStr)
	}
}

var _ llm.Provider = (*GeminiAdapter)(nil)
