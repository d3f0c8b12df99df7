package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/ansi"
	"github.com/muesli/reflow/truncate"

	"github.com/azyu/storyloom/internal/tui/styles"
)

// toastDuration is how long a run notification stays on screen.
const toastDuration = 3 * time.Second

type ToastLevel int

const (
	ToastInfo ToastLevel = iota
	ToastSuccess
	ToastWarning
	ToastError
)

// Toast is a transient notification drawn over the top-right corner.
type Toast struct {
	Message string
	Level   ToastLevel
	Visible bool
	seq     int
}

// clearToastMsg hides the toast it was scheduled for. A newer toast is
// left alone.
type clearToastMsg struct{ seq int }

var toastBase = lipgloss.NewStyle().
	Padding(0, 1).
	BorderStyle(lipgloss.RoundedBorder())

func (t Toast) icon() string {
	switch t.Level {
	case ToastSuccess:
		return "✓"
	case ToastError:
		return "✗"
	case ToastWarning:
		return "⚠"
	default:
		return "ℹ"
	}
}

func (t Toast) style() lipgloss.Style {
	color := styles.Primary
	switch t.Level {
	case ToastSuccess:
		color = styles.Secondary
	case ToastWarning:
		color = styles.Accent
	case ToastError:
		color = styles.Error
	}
	return toastBase.BorderForeground(color).Foreground(color)
}

// show replaces the current toast and schedules its removal.
func (t *Toast) show(msg string, level ToastLevel) tea.Cmd {
	t.seq++
	t.Message = msg
	t.Level = level
	t.Visible = true

	seq := t.seq
	return tea.Tick(toastDuration, func(time.Time) tea.Msg {
		return clearToastMsg{seq: seq}
	})
}

// Update handles clearToastMsg.
func (t *Toast) Update(msg tea.Msg) {
	if m, ok := msg.(clearToastMsg); ok && m.seq == t.seq {
		t.Visible = false
		t.Message = ""
	}
}

// View renders the toast, or "" when hidden.
func (t Toast) View(maxWidth int) string {
	if !t.Visible || t.Message == "" {
		return ""
	}

	msg := t.Message
	if maxWidth > 10 {
		msg = truncate.StringWithTail(msg, uint(maxWidth-10), "...")
	}
	return t.style().Render(t.icon() + " " + msg)
}

func getLines(s string) (lines []string, widest int) {
	lines = strings.Split(s, "\n")
	for _, l := range lines {
		widest = max(widest, ansi.PrintableRuneWidth(l))
	}
	return lines, widest
}

// placeOverlay draws fg over bg with its top-left corner at x, y.
func placeOverlay(x, y int, fg, bg string) string {
	fgLines, fgWidth := getLines(fg)
	bgLines, bgWidth := getLines(bg)
	bgHeight := len(bgLines)
	fgHeight := len(fgLines)

	if fgWidth >= bgWidth && fgHeight >= bgHeight {
		return fg
	}

	x = max(0, min(x, bgWidth-fgWidth))
	y = max(0, min(y, bgHeight-fgHeight))

	var b strings.Builder
	for i, bgLine := range bgLines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if i < y || i >= y+fgHeight {
			b.WriteString(bgLine)
			continue
		}

		pos := 0
		if x > 0 {
			left := truncate.String(bgLine, uint(x))
			pos = ansi.PrintableRuneWidth(left)
			b.WriteString(left)
			if pos < x {
				b.WriteString(strings.Repeat(" ", x-pos))
				pos = x
			}
		}

		fgLine := fgLines[i-y]
		b.WriteString(fgLine)
		pos += ansi.PrintableRuneWidth(fgLine)

		if pos < ansi.PrintableRuneWidth(bgLine) {
			b.WriteString(skipWidth(bgLine, pos))
		}
	}

	return b.String()
}

// skipWidth drops the first skip printable columns of s.
func skipWidth(s string, skip int) string {
	width := 0
	for i, r := range s {
		if width >= skip {
			return s[i:]
		}
		width += ansi.PrintableRuneWidth(string(r))
	}
	return ""
}

func renderToastTopRight(toast, background string, padding int) string {
	if toast == "" {
		return background
	}
	x := lipgloss.Width(background) - lipgloss.Width(toast) - padding
	return placeOverlay(x, padding, toast, background)
}
