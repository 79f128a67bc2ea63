// Package ui prints human facing command output. Logs go through pkg/logger;
// this package is only for results a user asked to see.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	out     io.Writer = os.Stdout
	colored           = true
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		if !colored {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// SetColor enables or disables ANSI colors
func SetColor(enabled bool) {
	colored = enabled
}

// SetOutput redirects output; nil restores stdout
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		fmt.Fprintln(out, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(out, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(out, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(out, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(out, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(out, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(out, Magenta(msg))
}

// PrintLines prints each line as is
func PrintLines(lines []string) {
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}

// PrintCounts prints name/value pairs aligned, sorted by name
func PrintCounts(title string, counts map[string]int) {
	PrintHighlight(title)

	names := make([]string, 0, len(counts))
	width := 0
	for name := range counts {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		value := fmt.Sprintf("%d", counts[name])
		if counts[name] > 0 {
			value = Yellow(value)
		}
		fmt.Fprintf(out, "  %s%s %s\n", Cyan(name), strings.Repeat(" ", width-len(name)), value)
	}
}
