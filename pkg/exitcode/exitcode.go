// Package exitcode provides standardized exit codes for releaseme
package exitcode

// Exit codes for the releaseme CLI
const (
	Success          = 0
	GeneralError     = 1
	ConfigError      = 2
	ValidationError  = 3
	MissingVersion   = 4
	DuplicateVersion = 5
	GitError         = 6
	PartialFailure   = 7
)

// String returns a human-readable description of the exit code
func String(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case ConfigError:
		return "Configuration error"
	case ValidationError:
		return "Validation error"
	case MissingVersion:
		return "Version field missing"
	case DuplicateVersion:
		return "Duplicate version"
	case GitError:
		return "Git error"
	case PartialFailure:
		return "Partial failure"
	default:
		return "Unknown error"
	}
}
