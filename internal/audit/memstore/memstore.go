// Package memstore provides an in-memory implementation of audit.Store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// Store holds messages and rules in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	messages map[int64]*audit.Message // id -> message
	seen     map[string]int64         // external id -> id (dedup)
	rules    []rules.Rule
	nextID   int64
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		messages: make(map[int64]*audit.Message),
		seen:     make(map[string]int64),
	}
}

// Insert stores a copy of m unless its external id is known.
func (s *Store) Insert(_ context.Context, m *audit.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[m.ExternalID]; ok {
		return false, nil
	}
	s.nextID++
	m.ID = s.nextID
	s.messages[m.ID] = m.Clone()
	s.seen[m.ExternalID] = m.ID
	return true, nil
}

// Get retrieves a message by id. Returns a copy.
func (s *Store) Get(_ context.Context, id int64) (*audit.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

// List returns copies of the messages matching f, oldest first.
func (s *Store) List(_ context.Context, f audit.Filter) ([]*audit.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Message
	for _, m := range s.sorted() {
		if f.Match(m) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// sorted returns the stored messages ordered by send time, then id. Callers
// hold mu.
func (s *Store) sorted() []*audit.Message {
	out := make([]*audit.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *audit.Message) int {
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Update replaces the workflow fields of the stored message if its state is
// still from.
func (s *Store) Update(_ context.Context, m *audit.Message, from audit.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[m.ID]
	if !ok {
		return fmt.Errorf("message %d: %w", m.ID, audit.ErrNotFound)
	}
	if cur.State != from {
		return audit.ErrStaleState
	}
	cur.State = m.State
	cur.Blocked = m.Blocked
	cur.BlockReason = m.BlockReason
	cur.EscalatedBy = m.EscalatedBy
	cur.ValidatorComment = m.ValidatorComment
	cur.EscalatedAt = m.EscalatedAt
	cur.Resolved = m.Resolved
	cur.AssignedTo = m.AssignedTo
	cur.ProcessedBy = m.ProcessedBy
	cur.ProcessedAt = m.ProcessedAt
	return nil
}

// ClaimBatch assigns up to n free pending messages of line to validator.
func (s *Store) ClaimBatch(_ context.Context, line, validator string, n int) ([]*audit.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Message
	for _, m := range s.sorted() {
		if len(out) == n {
			break
		}
		if m.State != audit.StatePending || m.Blocked || m.AssignedTo != "" || m.Line != line {
			continue
		}
		m.AssignedTo = validator
		out = append(out, m.Clone())
	}
	return out, nil
}

// Release unassigns the validator's unprocessed pending messages.
func (s *Store) Release(_ context.Context, validator string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.State == audit.StatePending && !m.Blocked && m.AssignedTo == validator {
			m.AssignedTo = ""
			n++
		}
	}
	return n, nil
}

// PendingByLine counts free pending messages per line.
func (s *Store) PendingByLine(context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, m := range s.messages {
		if m.State == audit.StatePending && !m.Blocked && m.AssignedTo == "" {
			out[m.Line]++
		}
	}
	return out, nil
}

// Rules returns copies of every stored rule.
func (s *Store) Rules(context.Context) ([]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rules), nil
}

// Commit applies c under the write lock. Everything is checked before
// anything is written, so a failing commit leaves the store unchanged.
func (s *Store) Commit(_ context.Context, c audit.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deactivate := -1
	if c.Deactivate != "" {
		deactivate = slices.IndexFunc(s.rules, func(r rules.Rule) bool { return r.ID == c.Deactivate })
		if deactivate < 0 {
			return fmt.Errorf("rule %s: %w", c.Deactivate, audit.ErrNotFound)
		}
	}
	if c.Rule != nil && slices.ContainsFunc(s.rules, func(r rules.Rule) bool { return r.ID == c.Rule.ID }) {
		return fmt.Errorf("rule %s already exists", c.Rule.ID)
	}
	for _, rc := range c.Results {
		if _, ok := s.messages[rc.ID]; !ok {
			return fmt.Errorf("message %d: %w", rc.ID, audit.ErrNotFound)
		}
	}

	if deactivate >= 0 {
		s.rules[deactivate].Active = false
	}
	if c.Rule != nil {
		s.rules = append(s.rules, *c.Rule)
	}
	for _, rc := range c.Results {
		m := s.messages[rc.ID]
		if m.State != rc.From || m.Terminal() {
			continue
		}
		res := rc.Result.Clone()
		m.Result = *res
		if rc.Resolve && m.State == audit.StateEscalated {
			m.Resolved = true
		}
	}
	return nil
}
