package output

import "github.com/fatih/color"

// Pre-configured color instances for CLI summaries. Respects the global
// color.NoColor setting (and NO_COLOR) automatically.
var (
	Vulnerable = color.New(color.FgRed, color.Bold)
	Sanitized  = color.New(color.FgGreen)
	Skipped    = color.New(color.FgYellow)
	Count      = color.New(color.FgCyan)
)

// DisableColor turns off all color output, for non-TTY writers.
func DisableColor(disabled bool) {
	color.NoColor = disabled
}

// FlowLine renders one triaged flow's one-line summary: red for a confirmed
// vulnerability, green otherwise.
func FlowLine(location string, vulnerable bool) string {
	if vulnerable {
		return Vulnerable.Sprintf("VULNERABLE  %s", location)
	}
	return Sanitized.Sprintf("sanitized   %s", location)
}
