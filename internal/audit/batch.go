package audit

import (
	"context"
	"slices"
)

var notBlocked = new(bool)

// Lines returns the number of unassigned pending messages per line.
func (s *Service) Lines(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.PendingByLine(ctx)
}

// NextBatch serves validator a batch for line. Messages already assigned to
// the validator are served first; otherwise a new batch is claimed. When
// nothing remains the batch is marked cleared.
func (s *Service) NextBatch(ctx context.Context, line, validator string) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextBatch(ctx, line, validator)
}

func (s *Service) nextBatch(ctx context.Context, line, validator string) (*Batch, error) {
	msgs, err := s.assigned(ctx, line, validator)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		msgs, err = s.store.ClaimBatch(ctx, line, validator, s.batchSize)
		if err != nil {
			return nil, err
		}
	}
	blocked, err := s.store.List(ctx, Filter{States: []State{StateBlocked}, AssignedTo: validator})
	if err != nil {
		return nil, err
	}
	if err := s.refreshStale(ctx, slices.Concat(msgs, blocked)); err != nil {
		return nil, err
	}

	b := &Batch{
		Line:     line,
		Messages: nonNil(msgs),
		Blocked:  nonNil(blocked),
		Cleared:  len(msgs) == 0,
	}
	s.metrics.batch(b)
	s.logger.Info(ctx, "batch served",
		"linea", line,
		"validator", validator,
		"messages", len(b.Messages),
		"blocked", len(b.Blocked),
		"cleared", b.Cleared,
	)
	return b, nil
}

func (s *Service) assigned(ctx context.Context, line, validator string) ([]*Message, error) {
	return s.store.List(ctx, Filter{
		States:     []State{StatePending},
		Line:       line,
		AssignedTo: validator,
		Blocked:    notBlocked,
	})
}

// Blocked lists the blocked messages returned to validator.
func (s *Service) Blocked(ctx context.Context, validator string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, err := s.store.List(ctx, Filter{States: []State{StateBlocked}, AssignedTo: validator})
	if err != nil {
		return nil, err
	}
	return nonNil(msgs), nil
}

// Release returns the validator's unprocessed messages to the queue.
func (s *Service) Release(ctx context.Context, validator string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.store.Release(ctx, validator)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "assignments released", "validator", validator, "count", n)
	return n, nil
}

// Act applies a validator action to a message. When it empties the
// validator's batch for that line, the next batch is issued with the result.
func (s *Service) Act(ctx context.Context, id int64, a Action, validator, comment string) (*ActionResult, error) {
	if !slices.Contains(ValidatorActions, a) {
		return nil, &IllegalTransitionError{ID: id, Action: a, Reason: "not a validator action"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, m, a, validator, comment); err != nil {
		return nil, err
	}
	if a == ActionReport {
		if err := s.notifier.Escalated(ctx, m); err != nil {
			s.logger.Warn(ctx, "escalation notification failed", "message_id", m.ID, "error", err)
		}
	}

	left, err := s.assigned(ctx, m.Line, validator)
	if err != nil {
		return nil, err
	}
	out := &ActionResult{Message: m, Remaining: len(left)}
	if len(left) == 0 {
		if out.Next, err = s.nextBatch(ctx, m.Line, validator); err != nil {
			return nil, err
		}
	}
	return out, nil
}
