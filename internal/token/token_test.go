package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounter(t *testing.T) {
	tests := []struct {
		name         string
		encoding     string
		wantEncoding string
	}{
		{
			name:         "creates counter with default encoding",
			encoding:     "",
			wantEncoding: "cl100k_base",
		},
		{
			name:         "creates counter with o200k_base",
			encoding:     "o200k_base",
			wantEncoding: "o200k_base",
		},
		{
			name:         "falls back to default for invalid encoding",
			encoding:     "invalid_encoding",
			wantEncoding: "cl100k_base",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := NewCounter(tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEncoding, counter.Encoding())
		})
	}
}

func TestEncodingForModel(t *testing.T) {
	assert.Equal(t, "o200k_base", EncodingForModel("gpt-4o-mini"))
	assert.Equal(t, "cl100k_base", EncodingForModel("gpt-4-turbo"))
	assert.Equal(t, "cl100k_base", EncodingForModel("gemini-2.0-flash"))
}

func TestCounter_Count(t *testing.T) {
	counter, err := NewCounter("cl100k_base")
	require.NoError(t, err)

	assert.Equal(t, 0, counter.Count(""))
	assert.Greater(t, counter.Count("The lighthouse keeper counted the ships."), 0)
	assert.Greater(t, counter.Count(strings.Repeat("word ", 100)), counter.Count("word"))
}

func TestCounter_TruncateToFit(t *testing.T) {
	counter, err := NewCounter("cl100k_base")
	require.NoError(t, err)

	text := "Alpha bravo charlie delta echo foxtrot golf hotel india juliet."

	t.Run("returns text unchanged when it fits", func(t *testing.T) {
		assert.Equal(t, text, counter.TruncateToFit(text, 1000, false))
	})

	t.Run("zero budget yields empty string", func(t *testing.T) {
		assert.Empty(t, counter.TruncateToFit(text, 0, true))
	})

	t.Run("keeps the head", func(t *testing.T) {
		got := counter.TruncateToFit(text, 3, false)
		assert.True(t, strings.HasPrefix(text, got))
		assert.LessOrEqual(t, counter.Count(got), 3)
	})

	t.Run("keeps the tail", func(t *testing.T) {
		got := counter.TruncateToFit(text, 3, true)
		assert.True(t, strings.HasSuffix(text, got))
		assert.LessOrEqual(t, counter.Count(got), 3)
	})
}

func TestCounter_Split(t *testing.T) {
	counter, err := NewCounter("cl100k_base")
	require.NoError(t, err)

	tests := []struct {
		name       string
		text       string
		chunkSize  int
		overlap    float64
		wantMinLen int
		wantMaxLen int
	}{
		{
			name:      "empty text returns nil",
			text:      "",
			chunkSize: 10,
		},
		{
			name:      "zero chunk size returns nil",
			text:      "Hello world",
			chunkSize: 0,
		},
		{
			name:       "short text returns single chunk",
			text:       "Hello",
			chunkSize:  100,
			overlap:    0.2,
			wantMinLen: 1,
			wantMaxLen: 1,
		},
		{
			name:       "splits long text without overlap",
			text:       "The quick brown fox jumps over the lazy dog. The five boxing wizards jump quickly. Pack my box with five dozen liquor jugs.",
			chunkSize:  10,
			wantMinLen: 2,
			wantMaxLen: 10,
		},
		{
			name:       "clamps overlap >= 1",
			text:       "The quick brown fox jumps over the lazy dog.",
			chunkSize:  5,
			overlap:    1.5,
			wantMinLen: 1,
			wantMaxLen: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := counter.Split(tt.text, tt.chunkSize, tt.overlap)

			if tt.wantMaxLen == 0 {
				assert.Nil(t, chunks)
				return
			}
			assert.GreaterOrEqual(t, len(chunks), tt.wantMinLen)
			assert.LessOrEqual(t, len(chunks), tt.wantMaxLen)
		})
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "latin words", text: "The tide came in.", want: 4},
		{name: "contraction is one word", text: "She didn't look back", want: 4},
		{name: "han characters count individually", text: "林远走进了雨里", want: 7},
		{name: "mixed scripts", text: "Day 3，林远回来了", want: 2 + 5},
		{name: "punctuation only", text: "... -- !!", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountWords(tt.text))
		})
	}
}

func TestPromptBudget(t *testing.T) {
	t.Run("unknown model uses default limit", func(t *testing.T) {
		b := NewPromptBudget("mystery-model", 1000)
		assert.Equal(t, DefaultContextLimit, b.MaxTokens())
		assert.Equal(t, DefaultContextLimit-1000, b.Available())
	})

	t.Run("reserve larger than window leaves nothing", func(t *testing.T) {
		b := NewPromptBudget("gpt-4", 100000)
		assert.Equal(t, 0, b.Available())
	})

	t.Run("response tokens scale with words", func(t *testing.T) {
		assert.Equal(t, 10000, ResponseTokens(5000))
	})
}

func TestPromptBudget_Fit(t *testing.T) {
	counter, err := NewCounter("cl100k_base")
	require.NoError(t, err)

	long := strings.Repeat("The archive remembered every storm. ", 400)

	t.Run("everything fits untouched", func(t *testing.T) {
		b := NewPromptBudget("gpt-4o", 1000)
		in := []Section{
			{Name: "outline", Text: "Chapter 3 plan", Priority: 0},
			{Name: "history", Text: "Earlier events", Priority: 1},
		}
		out := b.Fit(counter, in)
		assert.Equal(t, in, out)
	})

	t.Run("lower priority sections are truncated first", func(t *testing.T) {
		b := NewPromptBudget("gpt-4", DefaultContextLimit-200)
		in := []Section{
			{Name: "history", Text: long, Priority: 2, KeepEnd: true},
			{Name: "outline", Text: "Chapter 3 plan", Priority: 0},
		}
		out := b.Fit(counter, in)

		require.Len(t, out, 2)
		assert.Equal(t, "history", out[0].Name)
		assert.Equal(t, "Chapter 3 plan", out[1].Text)
		assert.Less(t, len(out[0].Text), len(long))
		assert.True(t, strings.HasSuffix(long, out[0].Text))
		assert.LessOrEqual(t, counter.Count(out[0].Text)+counter.Count(out[1].Text), 202)
	})

	t.Run("exhausted budget drops sections", func(t *testing.T) {
		b := NewPromptBudget("gpt-4", DefaultContextLimit)
		out := b.Fit(counter, []Section{{Name: "history", Text: long}})
		assert.Empty(t, out)
	})
}
