package tools

const (
	// Search limits
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000

	// Session identifiers
	MaxSessionIDLength = 100

	// Background log tail returned by check_background_process
	DefaultLogTailBytes = 2000
)
