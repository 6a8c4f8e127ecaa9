package recorder

import "fmt"

// StartupError means the encoder binary could not be found. It is never
// retried; the user has to fix their installation.
type StartupError struct {
	Encoder string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("encoder %q not found: %v", e.Encoder, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// StreamError means the encoder process exited while a recording was still
// wanted. It carries the tail of the encoder's stderr for diagnostics and
// feeds the manager's bounded retry path.
type StreamError struct {
	StationID    string
	ProgramTitle string
	ExitErr      error
	Stderr       string
}

func (e *StreamError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("encoder exited unexpectedly: %v (stderr: %s)", e.ExitErr, e.Stderr)
	}
	return fmt.Sprintf("encoder exited unexpectedly: %v", e.ExitErr)
}

func (e *StreamError) Unwrap() error { return e.ExitErr }
