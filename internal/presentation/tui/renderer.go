package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Renderer turns markdown reports into terminal output.
type Renderer struct {
	term *glamour.TermRenderer
}

// NewRenderer builds a glamour renderer wrapped at width columns (0 keeps glamour's default).
// If glamour cannot initialise, Render passes markdown through untouched.
func NewRenderer(width int) *Renderer {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	term, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{term: term}
}

// Render returns the styled form of markdown.
func (r *Renderer) Render(markdown string) string {
	if r.term == nil {
		return markdown
	}
	out, err := r.term.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimLeft(out, "\n")
}
