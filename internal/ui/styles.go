// Package ui renders imgcrush progress and reports for terminals and for
// machine consumers.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Ayu palette, adaptive light/dark.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

// Status icons.
const (
	IconPass  = "✓"
	IconFail  = "✗"
	IconSkip  = "→"
	IconStart = "⚡"
	IconWatch = "👁"
	IconWarn  = "⚠"
)

// styles are bound to one writer so colour is dropped when it is not a
// terminal.
type styles struct {
	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
	accent lipgloss.Style
	bold   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		pass:   r.NewStyle().Foreground(ColorPass),
		warn:   r.NewStyle().Foreground(ColorWarn),
		fail:   r.NewStyle().Foreground(ColorFail),
		muted:  r.NewStyle().Foreground(ColorMuted),
		accent: r.NewStyle().Foreground(ColorAccent),
		bold:   r.NewStyle().Bold(true),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
