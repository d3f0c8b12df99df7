// Package token provides token counting, word counting and prompt budgeting.
package token

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter wraps a tiktoken encoder for token counting operations.
type Counter struct {
	encoder  *tiktoken.Tiktoken
	encoding string
}

const defaultEncoding = "cl100k_base"

// NewCounter creates a new token counter with the specified encoding.
// Supported encodings include:
//   - "cl100k_base" (GPT-4, GPT-4-turbo, GPT-3.5-turbo)
//   - "o200k_base" (GPT-4o)
//   - "p50k_base" (GPT-3, Codex)
//
// Falls back to cl100k_base if the specified encoding is not found.
func NewCounter(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}

	encoder, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		encoder, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, err
		}
		encoding = defaultEncoding
	}

	return &Counter{
		encoder:  encoder,
		encoding: encoding,
	}, nil
}

// EncodingForModel picks the tiktoken encoding closest to a model family.
func EncodingForModel(model string) string {
	if strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "o1") {
		return "o200k_base"
	}
	return defaultEncoding
}

// Encoding returns the current encoding name.
func (c *Counter) Encoding() string {
	return c.encoding
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoder.Encode(text, nil, nil))
}

// TruncateToFit cuts text down to maxTokens. With fromEnd set the tail of the
// text is kept, otherwise the head.
func (c *Counter) TruncateToFit(text string, maxTokens int, fromEnd bool) string {
	if maxTokens <= 0 {
		return ""
	}

	tokens := c.encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}

	if fromEnd {
		return c.encoder.Decode(tokens[len(tokens)-maxTokens:])
	}
	return c.encoder.Decode(tokens[:maxTokens])
}

// Split divides the text into overlapping chunks of approximately chunkSize tokens.
// The overlap parameter is the fraction shared by consecutive chunks.
func (c *Counter) Split(text string, chunkSize int, overlap float64) []string {
	if text == "" || chunkSize <= 0 {
		return nil
	}

	if overlap < 0 {
		overlap = 0
	}
	if overlap >= 1 {
		overlap = 0.9
	}

	tokens := c.encoder.Encode(text, nil, nil)
	if len(tokens) <= chunkSize {
		return []string{text}
	}

	step := chunkSize - int(float64(chunkSize)*overlap)
	if step <= 0 {
		step = 1
	}

	var chunks []string
	for i := 0; i < len(tokens); i += step {
		end := min(i+chunkSize, len(tokens))
		chunks = append(chunks, c.encoder.Decode(tokens[i:end]))
		if end >= len(tokens) {
			break
		}
	}

	return chunks
}
