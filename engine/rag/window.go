package rag

import (
	"strings"

	"github.com/StudyHallAI/studyhall-engine/engine/domain"
)

// TokenCounter estimates token usage for budget decisions.
type TokenCounter interface {
	Count(text string) int
}

// WindowOpts bounds the conversation context carried into a prompt.
type WindowOpts struct {
	MaxTurns  int
	MaxTokens int
}

// DefaultWindowOpts is the serving configuration.
var DefaultWindowOpts = WindowOpts{MaxTurns: 10, MaxTokens: 2000}

// Window clamps client-held conversation history to a prompt budget. The
// server keeps no session state; every request carries its own history and
// the window decides how much of it the prompt can afford.
type Window struct {
	opts    WindowOpts
	counter TokenCounter
	turns   []domain.Turn
}

// NewWindow creates an empty window. Zero-valued options take defaults.
func NewWindow(opts WindowOpts, counter TokenCounter) *Window {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultWindowOpts.MaxTurns
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultWindowOpts.MaxTokens
	}
	return &Window{opts: opts, counter: counter}
}

// FromHistory builds a window from request history, oldest turn first.
func FromHistory(history []domain.Turn, opts WindowOpts, counter TokenCounter) *Window {
	w := NewWindow(opts, counter)
	for _, t := range history {
		w.Append(t)
	}
	return w
}

// Append adds a turn, evicting the oldest once the turn cap is exceeded.
func (w *Window) Append(t domain.Turn) {
	w.turns = append(w.turns, t)
	if over := len(w.turns) - w.opts.MaxTurns; over > 0 {
		w.turns = w.turns[over:]
	}
}

// Turns returns the retained turns, oldest first.
func (w *Window) Turns() []domain.Turn {
	return w.turns
}

// Len reports how many turns the window holds.
func (w *Window) Len() int {
	return len(w.turns)
}

// Render writes the window newest turn first, stopping before the token
// budget would be exceeded. An over-budget turn is skipped whole rather
// than truncated mid-sentence.
func (w *Window) Render() string {
	if len(w.turns) == 0 {
		return ""
	}

	var b strings.Builder
	budget := w.opts.MaxTokens
	for i := len(w.turns) - 1; i >= 0; i-- {
		t := w.turns[i]
		line := "- " + t.Role + ": " + t.Text + "\n"
		cost := w.count(line)
		if cost > budget {
			break
		}
		budget -= cost
		b.WriteString(line)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (w *Window) count(text string) int {
	if w.counter != nil {
		return w.counter.Count(text)
	}
	// Rough bytes-per-token fallback.
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		return 1
	}
	return n
}
