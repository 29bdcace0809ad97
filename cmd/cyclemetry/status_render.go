package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"cyclemetry/internal/connectivity"
)

// tone is the severity shown in front of a status line.
type tone int

const (
	toneInfo tone = iota
	toneGood
	toneWarn
	toneBad
)

var toneStyles = map[tone]struct {
	label string
	color string
}{
	toneInfo: {"INFO", "\x1b[34m"},
	toneGood: {"OK", "\x1b[32m"},
	toneWarn: {"WARN", "\x1b[33m"},
	toneBad:  {"ERROR", "\x1b[31m"},
}

const colorReset = "\x1b[0m"

// statusPrinter formats the aligned "label: [TONE] message" lines used by
// status and watch.
type statusPrinter struct {
	color bool
	width int
}

func newStatusPrinter(w io.Writer) statusPrinter {
	return statusPrinter{color: isTerminal(w), width: 16}
}

func (p statusPrinter) line(label string, t tone, message string) string {
	style := toneStyles[t]
	badge := "[" + style.label + "]"
	if message != "" {
		badge += " " + message
	}
	text := fmt.Sprintf("  %-*s %s", p.width, label+":", badge)
	return p.paint(style.color, text)
}

func (p statusPrinter) header(title string) []string {
	title = fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(title))
	color := toneStyles[toneInfo].color
	return []string{p.paint(color, title), p.paint(color, rule)}
}

func (p statusPrinter) paint(color, text string) string {
	if !p.color {
		return text
	}
	return color + text + colorReset
}

// connectionTone is good only once the backend is connected and ready.
func connectionTone(st connectivity.State) tone {
	if st.Status == connectivity.StatusConnected && st.Ready {
		return toneGood
	}
	if st.Status == connectivity.StatusError {
		return toneBad
	}
	return toneWarn
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
