package audit

import (
	"context"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// Filter selects messages for List. Zero fields do not filter. Results are
// ordered by send time, then id.
type Filter struct {
	States     []State
	Line       string
	AssignedTo string
	Blocked    *bool
	Unresolved bool
}

// Match reports whether m passes the filter.
func (f Filter) Match(m *Message) bool {
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if m.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Line != "" && m.Line != f.Line {
		return false
	}
	if f.AssignedTo != "" && m.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Blocked != nil && m.Blocked != *f.Blocked {
		return false
	}
	if f.Unresolved && m.Resolved {
		return false
	}
	return true
}

// Reclassified is a new classification for one message, written only if the
// message is still in state From and that state is not terminal.
type Reclassified struct {
	ID      int64
	From    State
	Result  classify.Result
	Resolve bool
}

// Commit is one atomic write of a rule change and its cascade. Rule may be nil
// for a plain refresh.
type Commit struct {
	Rule       *rules.Rule
	Deactivate string
	Results    []Reclassified
}

// Store is the persistence interface for messages and rules.
type Store interface {
	// Insert stores m unless its external id is already known, assigning
	// m.ID. The check and the insert are atomic per external id.
	Insert(ctx context.Context, m *Message) (inserted bool, err error)
	Get(ctx context.Context, id int64) (*Message, bool, error)
	List(ctx context.Context, f Filter) ([]*Message, error)

	// Update persists the workflow fields of m if the stored state is still
	// from, else it returns ErrStaleState.
	Update(ctx context.Context, m *Message, from State) error

	// ClaimBatch assigns up to n unassigned, unblocked pending messages of
	// line to validator, oldest first.
	ClaimBatch(ctx context.Context, line, validator string, n int) ([]*Message, error)

	// Release unassigns the validator's pending messages.
	Release(ctx context.Context, validator string) (int, error)

	// PendingByLine counts unassigned pending messages per line.
	PendingByLine(ctx context.Context) (map[string]int, error)

	// Rules returns every stored rule, active or not.
	Rules(ctx context.Context) ([]rules.Rule, error)

	// Commit applies c entirely or not at all.
	Commit(ctx context.Context, c Commit) error
}
