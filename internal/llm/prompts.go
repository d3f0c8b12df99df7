package llm

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/azyu/storyloom/pkg/types"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}).ParseFS(promptFS, "prompts/*.tmpl"))

// render executes a named prompt template.
func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// renderContext renders the narrative context block, or "" when it is empty.
func renderContext(cx types.Context) (string, error) {
	return render("context", cx)
}

const (
	writerRole = "You are a novelist writing a long-form serialized story one chapter at a time. " +
		"You keep every chapter consistent with the characters, events and timeline established so far."

	editorRole = "You are a strict fiction editor. You judge chapters of a serialized story for logic, " +
		"character consistency, plot progress and prose quality, and answer only in JSON."

	archivistRole = "You are the archivist of a serialized story. You record what each chapter " +
		"establishes so later chapters stay consistent, and answer only in JSON."
)

// SystemPromptBuilder helps build the system prompt.
type SystemPromptBuilder struct {
	parts []string
}

// NewSystemPromptBuilder creates a new system prompt builder.
func NewSystemPromptBuilder() *SystemPromptBuilder {
	return &SystemPromptBuilder{}
}

// AddRole adds the model's role description.
func (b *SystemPromptBuilder) AddRole(role string) *SystemPromptBuilder {
	b.parts = append(b.parts, role)
	return b
}

// AddProjectInfo adds project information. Empty names are skipped.
func (b *SystemPromptBuilder) AddProjectInfo(name, genre string) *SystemPromptBuilder {
	switch {
	case name == "":
	case genre == "":
		b.parts = append(b.parts, fmt.Sprintf("The story is titled %q.", name))
	default:
		b.parts = append(b.parts, fmt.Sprintf("The story is a %s novel titled %q.", genre, name))
	}
	return b
}

// AddWritingStyle adds writing style guidelines.
func (b *SystemPromptBuilder) AddWritingStyle(style types.WritingConfig) *SystemPromptBuilder {
	if style == (types.WritingConfig{}) {
		return b
	}
	var lines []string
	if style.Style != "" {
		lines = append(lines, "- Style: "+style.Style)
	}
	if style.POV != "" {
		lines = append(lines, "- Point of view: "+style.POV)
	}
	if style.Tense != "" {
		lines = append(lines, "- Tense: "+style.Tense)
	}
	b.parts = append(b.parts, "Writing guidelines:\n"+strings.Join(lines, "\n"))
	return b
}

// AddContext adds context information.
func (b *SystemPromptBuilder) AddContext(context string) *SystemPromptBuilder {
	if context != "" {
		b.parts = append(b.parts, context)
	}
	return b
}

// AddInstructions adds specific instructions.
func (b *SystemPromptBuilder) AddInstructions(instructions string) *SystemPromptBuilder {
	if instructions != "" {
		b.parts = append(b.parts, instructions)
	}
	return b
}

// Build assembles the final system prompt.
func (b *SystemPromptBuilder) Build() string {
	return strings.Join(b.parts, "\n\n")
}
