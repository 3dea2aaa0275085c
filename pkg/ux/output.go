// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the codegraph CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette, deep teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

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

// labelWidth aligns Field values.
const labelWidth = 10

type styles struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(ColorSlate),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
	}
}

// Printer writes styled lines to one writer. It is not safe for
// concurrent use.
type Printer struct {
	w      io.Writer
	mode   Mode
	styles styles
}

// NewPrinter returns a Printer for w. Styles are bound to w's own color
// profile, so a redirected stream never receives escape codes.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode, styles: newStyles(lipgloss.NewRenderer(w))}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Render returns the icon styled for p.
func (p *Printer) Render(i Icon) string {
	if p.mode != ModeRich {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return p.styles.Success.Render(string(i))
	case IconWarning:
		return p.styles.Warning.Render(string(i))
	case IconError:
		return p.styles.Error.Render(string(i))
	case IconPending:
		return p.styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	switch p.mode {
	case ModeMachine:
	case ModeRich:
		fmt.Fprintln(p.w, p.styles.Title.Render(text))
	default:
		fmt.Fprintln(p.w, text)
	}
}

// Field prints an aligned "Label: value" line.
func (p *Printer) Field(label, value string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "%s\t%s\n", strings.ToLower(label), value)
	case ModeRich:
		fmt.Fprintf(p.w, "%s %s\n",
			p.styles.Muted.Render(fmt.Sprintf("%-*s", labelWidth, label+":")),
			p.styles.Bold.Render(value))
	default:
		fmt.Fprintf(p.w, "%-*s %s\n", labelWidth, label+":", value)
	}
}

// Success prints a success message.
func (p *Printer) Success(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "OK: %s\n", text)
	case ModeRich:
		fmt.Fprintf(p.w, "%s %s\n", p.Render(IconSuccess), p.styles.Success.Render(text))
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconSuccess, text)
	}
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "WARN: %s\n", text)
	case ModeRich:
		fmt.Fprintf(p.w, "%s %s\n", p.Render(IconWarning), p.styles.Warning.Render(text))
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconWarning, text)
	}
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
	case ModeRich:
		fmt.Fprintf(p.w, "%s %s\n", p.Render(IconError), p.styles.Error.Render(text))
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconError, text)
	}
}

// FileStatus prints a file path with a status icon and optional reason.
func (p *Printer) FileStatus(path string, status Icon, reason string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "%s\t%s\t%s\n", status, path, reason)
		return
	case ModeRich:
		if reason != "" {
			reason = p.styles.Muted.Render("(" + reason + ")")
		}
	default:
		if reason != "" {
			reason = "(" + reason + ")"
		}
	}
	if reason == "" {
		fmt.Fprintf(p.w, "  %s %s\n", p.Render(status), path)
		return
	}
	fmt.Fprintf(p.w, "  %s %s %s\n", p.Render(status), path, reason)
}

// Box prints content under a title in a rounded box. Plain and machine
// modes print "title: content".
func (p *Printer) Box(title, content string) {
	if p.mode != ModeRich {
		fmt.Fprintf(p.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, p.styles.Box.Width(60).Render(p.styles.Title.Render(title)+"\n"+content))
}
