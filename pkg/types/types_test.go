package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultProjectConfig(t *testing.T) {
	tests := []struct {
		name         string
		projectName  string
		genre        string
		wantProvider string
		wantStyle    string
	}{
		{
			name:         "creates config with fantasy genre",
			projectName:  "Ashen Crown",
			genre:        "fantasy",
			wantProvider: "openai",
			wantStyle:    "descriptive, immersive",
		},
		{
			name:         "creates config with empty values",
			projectName:  "",
			genre:        "",
			wantProvider: "openai",
			wantStyle:    "descriptive, immersive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProjectConfig(tt.projectName, tt.genre)

			assert.Equal(t, tt.projectName, cfg.Name)
			assert.Equal(t, tt.genre, cfg.Genre)
			assert.Equal(t, 1, cfg.Version)
			assert.Equal(t, tt.wantProvider, cfg.LLM.Provider)
			assert.Equal(t, 800, cfg.Index.ChunkSize)
			assert.Equal(t, tt.wantStyle, cfg.Writing.Style)
			assert.False(t, cfg.CreatedAt.IsZero())
		})
	}
}

func TestDefaultProductionConfig(t *testing.T) {
	cfg := DefaultProductionConfig()

	assert.Equal(t, 3000, cfg.MinWords)
	assert.Equal(t, 4000, cfg.TargetWords)
	assert.Equal(t, 5000, cfg.MaxWords)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 3, cfg.MaxRevisions)
	assert.True(t, cfg.EnableMemory)
	assert.True(t, cfg.EnableConsistencyCheck)
	assert.Equal(t, 50, cfg.MemoryMaxChapters)
	assert.Equal(t, 5, cfg.ContextChapters)
	assert.False(t, cfg.SemiAutoMode)
	assert.Equal(t, 10, cfg.MaxHistoryVersions)
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
	assert.Equal(t, EscalationSkip, cfg.OnEscalation)
	assert.Equal(t, 300*time.Second, cfg.CallTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)

	for _, d := range Dimensions {
		assert.Equal(t, 60.0, cfg.ReviewThresholds.Get(d), string(d))
	}
}

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "~/storyloom/projects", cfg.ProjectsDir)
	assert.Equal(t, "openai", cfg.Defaults.Provider)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Contains(t, cfg.Providers, "openai")
	assert.Contains(t, cfg.Providers, "gemini")
	assert.Equal(t, "${OPENAI_API_KEY}", cfg.Providers["openai"].APIKey)
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityWarning.Rank())
	assert.Greater(t, SeverityWarning.Rank(), SeverityInfo.Rank())
	assert.Equal(t, 0, Severity("unknown").Rank())
}

func TestEventTypeValid(t *testing.T) {
	tests := []struct {
		in   EventType
		want bool
	}{
		{EventForeshadow, true},
		{EventClimax, true},
		{EventTurningPoint, true},
		{"subplot", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Valid())
		})
	}
}

func TestScoresGet(t *testing.T) {
	s := Scores{Logic: 1, Character: 2, Plot: 3, Prose: 4}

	assert.Equal(t, 1.0, s.Get(DimensionLogic))
	assert.Equal(t, 2.0, s.Get(DimensionCharacter))
	assert.Equal(t, 3.0, s.Get(DimensionPlot))
	assert.Equal(t, 4.0, s.Get(DimensionProse))
	assert.Equal(t, 0.0, s.Get("pacing"))
}
