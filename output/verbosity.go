package output

// VerbosityLevel controls how much detail a Logger emits.
type VerbosityLevel int

const (
	// VerbosityDefault shows warnings and errors only.
	VerbosityDefault VerbosityLevel = iota
	// VerbosityVerbose adds per-stage statistics and progress narration.
	VerbosityVerbose
	// VerbosityDebug adds elapsed-time-prefixed diagnostics.
	VerbosityDebug
)
