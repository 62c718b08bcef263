// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the taskgraph CLI.
//
// Output to a terminal is colored; output to anything else (pipes, files,
// test buffers) is plain "LEVEL: text" lines that scripts can grep.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette: deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Key     lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Key:     lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
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
)

// Render returns the icon with its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled or plain lines.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter styles output only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: isTerminal(w)}
}

// NewPlainPrinter never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Title prints a heading. Plain output omits it.
func (p *Printer) Title(text string) {
	if !p.styled {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a line with a check mark.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, "OK", Styles.Success, text)
}

// Warning prints a line with a warning sign.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, "WARN", Styles.Warning, text)
}

// Error prints a line with a cross.
func (p *Printer) Error(text string) {
	p.status(IconError, "ERROR", Styles.Error, text)
}

func (p *Printer) status(icon Icon, label string, style lipgloss.Style, text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "%s: %s\n", label, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
}

// KeyValue prints one aligned field.
func (p *Printer) KeyValue(key string, value any) {
	if !p.styled {
		fmt.Fprintf(p.w, "%s=%v\n", key, value)
		return
	}
	fmt.Fprintf(p.w, "  %s %v\n", Styles.Key.Render(fmt.Sprintf("%-12s", key)), value)
}

// Box prints content under a title in a rounded box.
func (p *Printer) Box(title, content string) {
	if !p.styled {
		fmt.Fprintf(p.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}
