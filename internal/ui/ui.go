// Package ui renders zs terminal output: status markers, the contact
// table and phase badges. Styling degrades to plain text when stdout is
// not a terminal or the environment disables color.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/veildb/zonesync/internal/schema"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

var colorEnabled = detectColor()

func detectColor() bool {
	if termenv.EnvColorProfile() == termenv.Ascii {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// SetColorEnabled overrides color detection. Used by --plain and tests.
func SetColorEnabled(enabled bool) {
	colorEnabled = enabled
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles s as an attention-drawing marker.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles s as a success marker.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles s as a warning marker.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles s as a failure marker.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted styles s as secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader styles s as a column header.
func RenderHeader(s string) string { return render(headerStyle, s) }

// PhaseBadge renders an engine phase name in its status color.
func PhaseBadge(phase string) string {
	switch phase {
	case "ready", "loaded":
		return render(passStyle, phase)
	case "initializing", "loading":
		return render(warnStyle, phase)
	case "errored":
		return render(failStyle, phase)
	default:
		return render(mutedStyle, phase)
	}
}

// ContactTable renders contacts as aligned rows with a header. Phone
// numbers the store could not return (or that were never set) show as a
// muted placeholder.
func ContactTable(contacts []*schema.Contact) string {
	nameWidth := len("NAME")
	phoneWidth := len("PHONE")
	for _, c := range contacts {
		if len(c.Name) > nameWidth {
			nameWidth = len(c.Name)
		}
		if len(c.PhoneNumber) > phoneWidth {
			phoneWidth = len(c.PhoneNumber)
		}
	}

	var b strings.Builder
	b.WriteString(RenderHeader(fmt.Sprintf("%-*s  %-*s  %s", nameWidth, "NAME", phoneWidth, "PHONE", "ID")))
	b.WriteString("\n")
	for _, c := range contacts {
		phone := c.PhoneNumber
		if phone == "" {
			phone = "-"
		}
		line := fmt.Sprintf("%-*s  %-*s  %s", nameWidth, c.Name, phoneWidth, phone, RenderMuted(c.ID))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
