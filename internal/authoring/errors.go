package authoring

import (
	"errors"
	"fmt"
)

// ErrNoProvider is returned by a Chain with nothing configured.
var ErrNoProvider = errors.New("no collaborator provider configured")

// CollaboratorError is a recoverable failure of an authoring turn. The
// caller keeps its transcript and may retry.
type CollaboratorError struct {
	// ConnectionFailed is set when no provider could be reached in time.
	ConnectionFailed bool
	Reason           string
	Err              error
}

func (e *CollaboratorError) Error() string {
	if e.ConnectionFailed {
		return fmt.Sprintf("collaborator connection failed: %v", e.Err)
	}
	if e.Err == nil {
		return "collaborator: " + e.Reason
	}
	return fmt.Sprintf("collaborator: %s: %v", e.Reason, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsCollaborator reports whether err is a CollaboratorError.
func IsCollaborator(err error) (*CollaboratorError, bool) {
	var ce *CollaboratorError
	ok := errors.As(err, &ce)
	return ce, ok
}

// InvalidTurnError reports a malformed turn request.
type InvalidTurnError struct {
	Reason string
}

func (e *InvalidTurnError) Error() string { return "invalid turn: " + e.Reason }
