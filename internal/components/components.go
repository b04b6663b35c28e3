package components

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/felixbrock/papersummarizer/internal/domain"
)

// Sidebar carries the per-session controls. Its inputs belong to the chat
// form through the form attribute.
type Sidebar struct {
	Temperature    float64
	MinTemperature float64
	MaxTemperature float64
	PromptVersion  string
	Versions       []string
	PromptUrl      string
	OptimizerUrl   string
}

type Page struct {
	Sidebar Sidebar
	// Turns excludes the assistant turn awaiting feedback, which is shown
	// as Pending.
	Turns   []domain.Turn
	Pending *domain.ParsedSummary
	State   string
	Notes   []string
	Error   string
}

const (
	StateAwaitingInput    = "awaiting-input"
	StateAwaitingFeedback = "awaiting-feedback"
	StateEnded            = "ended"
)

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) raw(s string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

func (w *writer) rawf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

func (w *writer) text(s string) {
	w.raw(templ.EscapeString(s))
}

func render(fn func(ctx context.Context, w *writer)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		fn(ctx, w)
		return w.err
	})
}

func roleLabel(r domain.Role) string {
	if r == domain.RoleUser {
		return "You"
	}
	return "Summarizer"
}

// preview shortens the paper text shown for user turns.
func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
