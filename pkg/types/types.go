// Package types provides shared data models for storyloom.
package types

import (
	"time"
)

// Project represents a serialized fiction project.
type Project struct {
	Name      string    `yaml:"name" json:"name"`
	Path      string    `yaml:"-" json:"path"`
	Genre     string    `yaml:"genre" json:"genre"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// ProjectConfig is the per-project configuration stored in .storyloom/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	Name       string           `yaml:"name" validate:"required"`
	Genre      string           `yaml:"genre"`
	CreatedAt  time.Time        `yaml:"created_at"`
	LLM        LLMConfig        `yaml:"llm"`
	Index      IndexConfig      `yaml:"index"`
	Writing    WritingConfig    `yaml:"writing"`
	Production ProductionConfig `yaml:"production"`
}

// LLMConfig specifies the LLM provider settings.
type LLMConfig struct {
	Provider string `yaml:"provider" validate:"required"`
	Model    string `yaml:"model"`
}

// IndexConfig controls chunking of committed chapters for full-text search.
type IndexConfig struct {
	ChunkSize    int     `yaml:"chunk_size" validate:"min=50"`
	ChunkOverlap float64 `yaml:"chunk_overlap" validate:"gte=0,lt=1"`
}

// WritingConfig holds writing style preferences passed to the generator.
type WritingConfig struct {
	Style string `yaml:"style"`
	POV   string `yaml:"pov"`
	Tense string `yaml:"tense"`
}

// EscalationPolicy decides what an unattended run does after a chapter escalates.
type EscalationPolicy string

const (
	// EscalationSkip marks the chapter number as skipped and moves on.
	EscalationSkip EscalationPolicy = "skip"
	// EscalationRetry abandons the draft and attempts the same chapter again.
	EscalationRetry EscalationPolicy = "retry"
	// EscalationHalt stops the run.
	EscalationHalt EscalationPolicy = "halt"
)

// ProductionConfig is the configuration recognized by the production pipeline.
type ProductionConfig struct {
	MinWords               int              `yaml:"min_words" validate:"gt=0"`
	TargetWords            int              `yaml:"target_words" validate:"gtefield=MinWords"`
	MaxWords               int              `yaml:"max_words" validate:"gtefield=TargetWords"`
	Temperature            float64          `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxRevisions           int              `yaml:"max_revisions" validate:"min=1,max=10"`
	EnableMemory           bool             `yaml:"enable_memory"`
	EnableConsistencyCheck bool             `yaml:"enable_consistency_check"`
	MemoryMaxChapters      int              `yaml:"memory_max_chapters" validate:"min=1"`
	ContextChapters        int              `yaml:"context_chapters" validate:"min=0"`
	SemiAutoMode           bool             `yaml:"semi_auto_mode"`
	MaxHistoryVersions     int              `yaml:"max_history_versions" validate:"min=1"`
	MaxConsecutiveFailures int              `yaml:"max_consecutive_failures" validate:"min=1"`
	OnEscalation           EscalationPolicy `yaml:"on_escalation" validate:"oneof=skip retry halt"`
	ReviewThresholds       ReviewThresholds `yaml:"review_thresholds"`
	CallTimeout            time.Duration    `yaml:"call_timeout" validate:"gt=0"`
	MaxRetries             int              `yaml:"max_retries" validate:"min=0,max=10"`
	RetryDelay             time.Duration    `yaml:"retry_delay" validate:"gte=0"`
	RequestsPerMinute      int              `yaml:"requests_per_minute" validate:"min=0"`
}

// ReviewThresholds are the minimum passing scores per review dimension (0-100).
type ReviewThresholds struct {
	Logic     float64 `yaml:"logic" validate:"gte=0,lte=100"`
	Character float64 `yaml:"character" validate:"gte=0,lte=100"`
	Plot      float64 `yaml:"plot" validate:"gte=0,lte=100"`
	Prose     float64 `yaml:"prose" validate:"gte=0,lte=100"`
}

// Get returns the threshold for a dimension.
func (t ReviewThresholds) Get(d Dimension) float64 {
	switch d {
	case DimensionLogic:
		return t.Logic
	case DimensionCharacter:
		return t.Character
	case DimensionPlot:
		return t.Plot
	case DimensionProse:
		return t.Prose
	}
	return 0
}

// GlobalConfig is the user-wide configuration at ~/.config/storyloom/config.yaml.
type GlobalConfig struct {
	Version     int                        `yaml:"version"`
	ProjectsDir string                     `yaml:"projects_dir"`
	Providers   map[string]*ProviderConfig `yaml:"providers"`
	Defaults    DefaultsConfig             `yaml:"defaults"`
	Logging     LoggingConfig              `yaml:"logging"`
}

// ProviderConfig holds API configuration for an LLM provider.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url,omitempty"`
}

// DefaultsConfig specifies default settings.
type DefaultsConfig struct {
	Provider string `yaml:"provider"`
}

// LoggingConfig specifies logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Console bool   `yaml:"console"`
}

// ChapterStatus is the lifecycle status of a chapter.
type ChapterStatus string

const (
	StatusDrafting  ChapterStatus = "drafting"
	StatusChecking  ChapterStatus = "checking"
	StatusReviewing ChapterStatus = "reviewing"
	StatusRevising  ChapterStatus = "revising"
	StatusCommitted ChapterStatus = "committed"
	StatusEscalated ChapterStatus = "escalated"
)

// Chapter represents a chapter under production or already committed.
type Chapter struct {
	Number        int                `yaml:"number" json:"number"`
	Title         string             `yaml:"title" json:"title"`
	Content       string             `yaml:"-" json:"content,omitempty"`
	WordCount     int                `yaml:"word_count" json:"word_count"`
	Status        ChapterStatus      `yaml:"status" json:"status"`
	RevisionCount int                `yaml:"revision_count" json:"revision_count"`
	Versions      []VersionSnapshot  `yaml:"-" json:"versions,omitempty"`
	Issues        []ConsistencyIssue `yaml:"-" json:"issues,omitempty"`
	Review        *ReviewResult      `yaml:"-" json:"review,omitempty"`
	FilePath      string             `yaml:"-" json:"file_path"`
	CreatedAt     time.Time          `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `yaml:"updated_at" json:"updated_at"`
}

// VersionSnapshot is an immutable copy of a chapter's content at one revision.
type VersionSnapshot struct {
	Revision  int       `json:"revision"`
	Content   string    `json:"content"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
}

// ChapterSummary is the condensed memory of a committed chapter.
type ChapterSummary struct {
	Chapter    int      `json:"chapter"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Characters []string `json:"characters"`
	WordCount  int      `json:"word_count"`
}

// CharacterState is the latest known state of a character.
type CharacterState struct {
	Name          string            `json:"name"`
	LastChapter   int               `json:"last_chapter"`
	Location      string            `json:"location,omitempty"`
	Status        string            `json:"status,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// CharacterUpdate is a partial update to a CharacterState. Nil fields and
// absent map keys leave the recorded value untouched.
type CharacterUpdate struct {
	Name          string            `json:"name"`
	Location      *string           `json:"location,omitempty"`
	Status        *string           `json:"status,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// EventType classifies plot events.
type EventType string

const (
	EventForeshadow   EventType = "foreshadow"
	EventClimax       EventType = "climax"
	EventTurningPoint EventType = "turning-point"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventForeshadow, EventClimax, EventTurningPoint:
		return true
	}
	return false
}

// PlotEvent is a tracked plot element.
type PlotEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Description string    `json:"description"`
	Chapter     int       `json:"chapter"`
	Characters  []string  `json:"characters,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Resolved    bool      `json:"resolved"`
}

// IssueCategory is the kind of consistency problem detected.
type IssueCategory string

const (
	CategoryCharacterBehavior IssueCategory = "character-behavior"
	CategoryTimeline          IssueCategory = "timeline"
	CategoryLogic             IssueCategory = "logic"
	CategoryWorldbuilding     IssueCategory = "worldbuilding"
)

// Severity of a consistency issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// Evidence references the ledger entries an issue was derived from.
type Evidence struct {
	Characters []string `json:"characters,omitempty"`
	Chapters   []int    `json:"chapters,omitempty"`
	EventIDs   []string `json:"event_ids,omitempty"`
	Excerpt    string   `json:"excerpt,omitempty"`
}

// ConsistencyIssue is a structured signal produced by consistency checking.
type ConsistencyIssue struct {
	Category    IssueCategory `json:"category"`
	Severity    Severity      `json:"severity"`
	Chapter     int           `json:"chapter"`
	Description string        `json:"description"`
	Suggestion  string        `json:"suggestion,omitempty"`
	Evidence    Evidence      `json:"evidence"`
}

// Dimension is a review scoring axis.
type Dimension string

const (
	DimensionLogic     Dimension = "logic"
	DimensionCharacter Dimension = "character"
	DimensionPlot      Dimension = "plot"
	DimensionProse     Dimension = "prose"
)

// Dimensions lists review dimensions in feedback order.
var Dimensions = []Dimension{DimensionLogic, DimensionCharacter, DimensionPlot, DimensionProse}

// Scores holds per-dimension review scores on a 0-100 scale.
type Scores struct {
	Logic     float64 `json:"logic"`
	Character float64 `json:"character"`
	Plot      float64 `json:"plot"`
	Prose     float64 `json:"prose"`
}

// Get returns the score for a dimension.
func (s Scores) Get(d Dimension) float64 {
	switch d {
	case DimensionLogic:
		return s.Logic
	case DimensionCharacter:
		return s.Character
	case DimensionPlot:
		return s.Plot
	case DimensionProse:
		return s.Prose
	}
	return 0
}

// Scorecard is what a scorer returns for a draft.
type Scorecard struct {
	Scores            Scores               `json:"scores"`
	DimensionFeedback map[Dimension]string `json:"dimension_feedback,omitempty"`
	Comment           string               `json:"comment,omitempty"`
	ResolvedEventIDs  []string             `json:"resolved_event_ids,omitempty"`
}

// ReviewResult is the verdict of the review evaluator.
type ReviewResult struct {
	Scores           Scores             `json:"scores"`
	Passed           bool               `json:"passed"`
	Feedback         []string           `json:"feedback"`
	Issues           []ConsistencyIssue `json:"issues,omitempty"`
	ResolvedEventIDs []string           `json:"resolved_event_ids,omitempty"`
}

// Context is the bounded narrative context assembled for one chapter.
type Context struct {
	Chapter    int              `json:"chapter"`
	Summaries  []ChapterSummary `json:"summaries"`
	Characters []CharacterState `json:"characters"`
	Events     []PlotEvent      `json:"events"`
	LastDay    int              `json:"last_day"`
}

// OutlineEntry is the plan for a single chapter.
type OutlineEntry struct {
	Number     int      `json:"number"`
	Title      string   `json:"title"`
	Plan       string   `json:"plan"`
	Characters []string `json:"characters,omitempty"`
}

// EscalationReason explains why a chapter left the automatic loop.
type EscalationReason string

const (
	ReasonCollaboratorFailure    EscalationReason = "collaborator-failure"
	ReasonRevisionBudgetExceeded EscalationReason = "revision-budget-exceeded"
)

// EscalationDecision is the outcome chosen for an escalated chapter.
type EscalationDecision string

const (
	DecisionPending EscalationDecision = "pending"
	DecisionAccept  EscalationDecision = "accept"
	DecisionEdit    EscalationDecision = "edit"
	DecisionAbandon EscalationDecision = "abandon"
	DecisionSkip    EscalationDecision = "skip"
	DecisionRetry   EscalationDecision = "retry"
	DecisionHalt    EscalationDecision = "halt"
)

// Attempt records one check/review round of a chapter.
type Attempt struct {
	Revision int                `json:"revision"`
	Issues   []ConsistencyIssue `json:"issues,omitempty"`
	Feedback []string           `json:"feedback,omitempty"`
	Scores   Scores             `json:"scores"`
}

// Escalation is the report handed to the operator for a failed chapter.
type Escalation struct {
	Chapter   int                `json:"chapter"`
	Title     string             `json:"title"`
	Reason    EscalationReason   `json:"reason"`
	Error     string             `json:"error,omitempty"`
	Attempts  []Attempt          `json:"attempts,omitempty"`
	Decision  EscalationDecision `json:"decision"`
	CreatedAt time.Time          `json:"created_at"`
}

// MemoryStats summarizes the memory store.
type MemoryStats struct {
	Summaries        int `json:"summaries"`
	Characters       int `json:"characters"`
	Events           int `json:"events"`
	UnresolvedEvents int `json:"unresolved_events"`
	LastCommitted    int `json:"last_committed"`
	LastDay          int `json:"last_day"`
	SkippedChapters  int `json:"skipped_chapters"`
	OldestSummary    int `json:"oldest_summary"`
}

// DefaultProductionConfig returns the production defaults.
func DefaultProductionConfig() ProductionConfig {
	return ProductionConfig{
		MinWords:               3000,
		TargetWords:            4000,
		MaxWords:               5000,
		Temperature:            0.7,
		MaxRevisions:           3,
		EnableMemory:           true,
		EnableConsistencyCheck: true,
		MemoryMaxChapters:      50,
		ContextChapters:        5,
		SemiAutoMode:           false,
		MaxHistoryVersions:     10,
		MaxConsecutiveFailures: 3,
		OnEscalation:           EscalationSkip,
		ReviewThresholds: ReviewThresholds{
			Logic:     60,
			Character: 60,
			Plot:      60,
			Prose:     60,
		},
		CallTimeout:       300 * time.Second,
		MaxRetries:        3,
		RetryDelay:        5 * time.Second,
		RequestsPerMinute: 20,
	}
}

// DefaultProjectConfig returns a new ProjectConfig with sensible defaults.
func DefaultProjectConfig(name, genre string) *ProjectConfig {
	return &ProjectConfig{
		Version:   1,
		Name:      name,
		Genre:     genre,
		CreatedAt: time.Now(),
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Index: IndexConfig{
			ChunkSize:    800,
			ChunkOverlap: 0.15,
		},
		Writing: WritingConfig{
			Style: "descriptive, immersive",
			POV:   "third-person-limited",
			Tense: "past",
		},
		Production: DefaultProductionConfig(),
	}
}

// DefaultGlobalConfig returns a new GlobalConfig with sensible defaults.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Version:     1,
		ProjectsDir: "~/storyloom/projects",
		Providers: map[string]*ProviderConfig{
			"openai": {
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o",
			},
			"gemini": {
				APIKey:       "${GEMINI_API_KEY}",
				DefaultModel: "gemini-2.0-flash",
			},
			"local": {
				BaseURL:      "http://localhost:11434/v1",
				DefaultModel: "llama3",
			},
		},
		Defaults: DefaultsConfig{
			Provider: "openai",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
