package colors

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

// Status symbols
const (
	SymbolReady    = "●"
	SymbolFailed   = "✗"
	SymbolWarning  = "!"
	SymbolPending  = "○"
	SymbolProgress = "⎿"
)

// Palette renders text for one output stream; styles are dropped when the stream is not a terminal
type Palette struct {
	plain bool

	title   lipgloss.Style
	version lipgloss.Style
	primary lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// New creates a Palette for w
func New(w io.Writer) *Palette {
	r := lipgloss.NewRenderer(w)

	return &Palette{
		plain:   !IsTerminal(w),
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		version: r.NewStyle().Foreground(lipgloss.Color("#BDBDBD")),
		primary: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")),
		success: r.NewStyle().Foreground(lipgloss.Color("#04B575")),
		warning: r.NewStyle().Foreground(lipgloss.Color("#FFA726")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF5350")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#9E9E9E")),
	}
}

// IsTerminal reports whether w is a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return term.IsTerminal(f.Fd())
}

// Plain reports whether styling is disabled
func (p *Palette) Plain() bool {
	return p.plain
}

func (p *Palette) render(style lipgloss.Style, text string) string {
	if p.plain {
		return text
	}

	return style.Render(text)
}

// Title renders the application name
func (p *Palette) Title(text string) string {
	return p.render(p.title, text)
}

// Version renders a version string
func (p *Palette) Version(text string) string {
	return p.render(p.version, text)
}

// Primary renders commands and highlighted values
func (p *Palette) Primary(text string) string {
	return p.render(p.primary, text)
}

// Success renders positive outcomes
func (p *Palette) Success(text string) string {
	return p.render(p.success, text)
}

// Warning renders recoverable problems
func (p *Palette) Warning(text string) string {
	return p.render(p.warning, text)
}

// Error renders failures
func (p *Palette) Error(text string) string {
	return p.render(p.failure, text)
}

// Muted renders secondary details
func (p *Palette) Muted(text string) string {
	return p.render(p.muted, text)
}
