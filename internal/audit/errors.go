package audit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

var (
	// ErrNotFound is returned when a message, rule or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleState is returned when a message changed state between read
	// and write.
	ErrStaleState = errors.New("message state changed concurrently")

	// ErrCommentRequired is returned when REPORTAR or DEVOLVER carry no text.
	ErrCommentRequired = errors.New("a non-empty comment is required")
)

// ValidationInputError flags an imported record with missing or malformed
// fields. The record is still stored when it has an external id.
type ValidationInputError struct {
	ExternalID string
	Fields     []string
}

func (e *ValidationInputError) Error() string {
	return fmt.Sprintf("record %q: missing or invalid %s", e.ExternalID, strings.Join(e.Fields, ", "))
}

// IllegalTransitionError is returned for any workflow action not allowed from
// the message's current state.
type IllegalTransitionError struct {
	ID     int64
	From   State
	Action Action
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("message %d: %s not allowed from %s", e.ID, e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// RuleConflictError rejects a candidate rule. It carries the conflicts so
// they can be shown before an override decision.
type RuleConflictError struct {
	Conflicts []rules.Conflict
}

func (e *RuleConflictError) Error() string {
	return fmt.Sprintf("rule conflicts with %d active rule(s)", len(e.Conflicts))
}

// RuleValidationError wraps a proposal or rule that cannot be persisted.
type RuleValidationError struct {
	Err error
}

func (e *RuleValidationError) Error() string { return "invalid rule: " + e.Err.Error() }
func (e *RuleValidationError) Unwrap() error { return e.Err }
