// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the patchkernel CLI.
//
// A Printer styles output only when it writes to a terminal; pipes and
// files get plain text with the same layout.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	case IconPending:
		return Styles.Muted
	}
	return lipgloss.NewStyle()
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes optionally styled lines.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter styles output when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = IsTerminal(f)
	}
	return &Printer{w: w, styled: styled}
}

// NewPlainPrinter never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

// Styled reports whether output is styled.
func (p *Printer) Styled() bool { return p.styled }

// Render applies s when styling is on.
func (p *Printer) Render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Icon renders an icon in its semantic color.
func (p *Printer) Icon(i Icon) string {
	return p.Render(i.style(), string(i))
}

// Title prints a bold heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.Render(Styles.Title, text))
}

// Line prints a plain line.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Status prints "<icon> message".
func (p *Printer) Status(i Icon, format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.Icon(i), fmt.Sprintf(format, args...))
}

// Item prints an indented bullet.
func (p *Printer) Item(format string, args ...any) {
	fmt.Fprintf(p.w, "  %s %s\n", p.Icon(IconBullet), fmt.Sprintf(format, args...))
}

// Muted prints a dimmed, indented line.
func (p *Printer) Muted(format string, args ...any) {
	fmt.Fprintln(p.w, "    "+p.Render(Styles.Muted, fmt.Sprintf(format, args...)))
}

// Box prints lines inside a rounded border. Plain output indents instead.
func (p *Printer) Box(lines ...string) {
	if !p.styled {
		for _, l := range lines {
			fmt.Fprintln(p.w, "  "+l)
		}
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(strings.Join(lines, "\n")))
}
