package audit

import (
	"strings"
	"time"
)

// Action is a workflow action by a validator or the admin.
type Action string

const (
	ActionSend    Action = "ENVIAR"
	ActionReport  Action = "REPORTAR"
	ActionReturn  Action = "DEVOLVER"
	ActionUnblock Action = "DESBLOQUEAR"
	ActionResolve Action = "RESOLVER"
)

// ValidatorActions are the actions a validator may take on a served message.
var ValidatorActions = []Action{ActionSend, ActionReport}

// Transition applies action a to m. actor is the validator or admin name and
// note the comment or explanation the action requires. It returns the state
// m was in, for the optimistic check on write. m is left unchanged on error.
func Transition(m *Message, a Action, actor, note string, now time.Time) (State, error) {
	from := m.State
	illegal := func(reason string) (State, error) {
		return from, &IllegalTransitionError{ID: m.ID, From: from, Action: a, Reason: reason}
	}
	note = strings.TrimSpace(note)

	switch a {
	case ActionSend:
		if m.Blocked {
			return illegal("message is blocked")
		}
		if m.AssignedTo != "" && m.AssignedTo != actor {
			return illegal("assigned to " + m.AssignedTo)
		}
		if from != StatePending {
			return illegal("")
		}
		m.State = StateSent
		m.ProcessedBy = actor
		m.ProcessedAt = &now

	case ActionReport:
		if m.Blocked {
			return illegal("message is blocked")
		}
		if m.AssignedTo != "" && m.AssignedTo != actor {
			return illegal("assigned to " + m.AssignedTo)
		}
		if from != StatePending {
			return illegal("")
		}
		if note == "" {
			return from, ErrCommentRequired
		}
		m.State = StateEscalated
		m.EscalatedBy = actor
		m.ValidatorComment = note
		m.EscalatedAt = &now
		m.ProcessedBy = actor
		m.ProcessedAt = &now

	case ActionReturn:
		if from != StateEscalated || m.Resolved {
			return illegal("only unresolved escalated messages can be returned")
		}
		if note == "" {
			return from, ErrCommentRequired
		}
		m.State = StateBlocked
		m.Blocked = true
		m.BlockReason = note
		m.AssignedTo = m.EscalatedBy

	case ActionUnblock:
		if from != StateBlocked {
			return illegal("")
		}
		m.State = StatePending
		m.Blocked = false
		m.BlockReason = ""
		m.AssignedTo = ""

	case ActionResolve:
		if from != StateEscalated || m.Resolved {
			return illegal("only unresolved escalated messages can be resolved")
		}
		m.Resolved = true
		m.ProcessedBy = actor
		m.ProcessedAt = &now

	default:
		return illegal("unknown action")
	}
	return from, nil
}
