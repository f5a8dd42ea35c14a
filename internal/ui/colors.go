// Package ui styles terminal output.
package ui

import (
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI styles. They are blanked by Disable, and at startup when NO_COLOR is
// set or stdout is not a terminal.
var (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"

	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[97m"
	ColorRed    = "\033[31m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		Disable()
	}
}

// Disable turns all styling off.
func Disable() {
	for _, c := range []*string{&ColorReset, &ColorBold, &ColorDim, &ColorCyan, &ColorGreen, &ColorYellow, &ColorWhite, &ColorRed} {
		*c = ""
	}
}

func Bold(s string) string {
	return ColorBold + s + ColorReset
}

func Success(s string) string {
	return ColorGreen + s + ColorReset
}

// Info is dim yellow, for notices that are not results.
func Info(s string) string {
	return ColorDim + ColorYellow + s + ColorReset
}

func Error(s string) string {
	return ColorRed + s + ColorReset
}

// Field renders "name value" as used in run headers and summaries.
func Field(name, value string) string {
	return ColorBold + name + ColorReset + " " + ColorWhite + value + ColorReset
}
