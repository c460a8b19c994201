// Package ui provides TTY-aware colored console helpers shared by rsplug's
// CLI commands and progress subscriber.
package ui

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors enables or disables colored output. noColor forces plain text
// regardless of terminal detection; otherwise color is enabled only when
// stdout is a real terminal and NO_COLOR is unset.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Header prints a bold section title.
func Header(title string) {
	_, _ = Bold.Println(title)
}

// SubHeader prints a dimmer, indented section title.
func SubHeader(title string) {
	_, _ = Dim.Println("  " + title)
}

// Label formats a field label for `key: value` style output.
func Label(s string) string {
	return Bold.Sprint(s)
}

// DimText renders s in a faint style for secondary information.
func DimText(s string) string {
	return Dim.Sprint(s)
}

// CountText renders an integer count in bold, for summary lines.
func CountText(n int) string {
	return Bold.Sprint(strconv.Itoa(n))
}

// Failuref prints a one-line failure summary: "<id> [<kind>] <message>".
func Failuref(id, kind, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = Red.Fprintf(os.Stderr, "%s [%s] %s\n", id, kind, msg)
}
