package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutline(t *testing.T) {
	src := `# The Lantern Serial

Some preface that belongs to no chapter.

## Chapter 1: Harbor

Mara arrives at the harbor at dawn.
Characters: Mara, Ren

- She finds the sealed letter.
- Ren warns her off.

## Chapter 2 - The Tower

The keeper's tower burns.

### Notes

Keep the fire offstage.

## 第三章：归来

林默回到故乡。
人物：林默、苏晴
`

	entries := ParseOutline([]byte(src))
	require.Len(t, entries, 3)

	t.Run("latin heading with cast line", func(t *testing.T) {
		e := entries[1]
		assert.Equal(t, 1, e.Number)
		assert.Equal(t, "Harbor", e.Title)
		assert.Equal(t, []string{"Mara", "Ren"}, e.Characters)
		assert.Contains(t, e.Plan, "Mara arrives at the harbor at dawn.")
		assert.Contains(t, e.Plan, "- She finds the sealed letter.")
		assert.NotContains(t, e.Plan, "Characters")
		assert.NotContains(t, e.Plan, "preface")
	})

	t.Run("subheadings stay in the plan", func(t *testing.T) {
		e := entries[2]
		assert.Equal(t, "The Tower", e.Title)
		assert.Contains(t, e.Plan, "Notes")
		assert.Contains(t, e.Plan, "Keep the fire offstage.")
		assert.Empty(t, e.Characters)
	})

	t.Run("han numeral heading", func(t *testing.T) {
		e := entries[3]
		assert.Equal(t, "归来", e.Title)
		assert.Equal(t, []string{"林默", "苏晴"}, e.Characters)
		assert.Equal(t, "林默回到故乡。", e.Plan)
	})
}

func TestParseOutline_Empty(t *testing.T) {
	assert.Empty(t, ParseOutline(nil))
	assert.Empty(t, ParseOutline([]byte("# Title only\n\nNo chapters here.")))
}

func TestParseChapterHeading(t *testing.T) {
	tests := []struct {
		heading string
		number  int
		title   string
		ok      bool
	}{
		{"Chapter 12: Ash", 12, "Ash", true},
		{"chapter 3", 3, "", true},
		{"CHAPTER 4. Salt", 4, "Salt", true},
		{"第12章 风起", 12, "风起", true},
		{"第十二章：风起", 12, "风起", true},
		{"Chapter 0: Prologue", 0, "", false},
		{"Characters", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.heading, func(t *testing.T) {
			n, title, ok := parseChapterHeading(tt.heading)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.number, n)
			assert.Equal(t, tt.title, title)
		})
	}
}

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"my-serial", true},
		{"serial_2", true},
		{"", false},
		{"with space", false},
		{"a/b", false},
		{"..", false},
		{"CON", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidName(tt.name))
		})
	}
}
