package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// ConfirmRequest is the admin's explicit confirmation of a rule proposal.
type ConfirmRequest struct {
	Proposal  rules.Proposal `json:"propuesta"`
	MessageID int64          `json:"mensaje_id"`
	Admin     string         `json:"usuario"`
	Force     bool           `json:"forzar"`
}

// jobRegistry keeps cascade jobs for polling until they expire.
type jobRegistry struct {
	c *cache.Cache
}

func newJobRegistry(ttl time.Duration) *jobRegistry {
	return &jobRegistry{c: cache.New(ttl, 2*ttl)}
}

func (j *jobRegistry) put(job *CascadeJob) {
	cp := *job
	j.c.Set(job.ID, &cp, cache.DefaultExpiration)
}

func (j *jobRegistry) get(id string) (*CascadeJob, bool) {
	v, ok := j.c.Get(id)
	if !ok {
		return nil, false
	}
	cp := *v.(*CascadeJob)
	return &cp, true
}

// Job returns a cascade job by id.
func (s *Service) Job(_ context.Context, id string) (*CascadeJob, error) {
	job, ok := s.jobs.get(id)
	if !ok {
		return nil, fmt.Errorf("cascade job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// Rules returns the active rules in application order.
func (s *Service) Rules() []rules.Rule {
	return s.registry.Current().Rules()
}

// SearchRules finds active rules related to q.
func (s *Service) SearchRules(q rules.Query) []rules.Match {
	return rules.Search(s.registry.Current().Rules(), q)
}

// CheckConflicts resolves the candidate rule for req and returns its
// conflicts with the active rules, with the candidate itself.
func (s *Service) CheckConflicts(ctx context.Context, req ConfirmRequest) ([]rules.Conflict, *rules.Rule, error) {
	r, err := s.candidate(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	cs := rules.Detect(r, s.registry.Current().Rules())
	s.metrics.conflicts(cs)
	if cs == nil {
		cs = []rules.Conflict{}
	}
	return cs, r, nil
}

// candidate builds the rule a confirmation would persist: scope resolved
// from the originating message or the extended rule, regex merged with the
// extended rule, validated.
func (s *Service) candidate(ctx context.Context, req ConfirmRequest) (*rules.Rule, error) {
	m, ok, err := s.store.Get(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("message %d: %w", req.MessageID, ErrNotFound)
	}

	r, err := req.Proposal.Rule()
	if err != nil {
		return nil, &RuleValidationError{Err: err}
	}

	var ext *rules.Rule
	if r.Extends != "" {
		e, ok := s.registry.Current().Get(r.Extends)
		if !ok {
			return nil, &RuleValidationError{Err: fmt.Errorf("ampliar_regla_id %s is not an active rule", r.Extends)}
		}
		ext = &e
	}

	r.ID = ulid.Make().String()
	r.Scope = rules.ResolveScope(ext, m.Line)
	r.SourceMessage = m.ID
	r.Example = m.Content
	r.CreatedBy = req.Admin
	r.CreatedAt = s.now().UTC()
	r.MergeExtension(ext)

	if err := r.Validate(); err != nil {
		return nil, &RuleValidationError{Err: err}
	}
	return &r, nil
}

// Confirm persists a confirmed rule and re-scores the backlog. Conflicts
// reject the rule with a RuleConflictError unless req.Force is set, in which
// case the rule is stored as forced. The cascade runs in the background and
// the returned job can be polled; with wait the call returns the finished job.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest, wait bool) (*CascadeJob, error) {
	r, err := s.candidate(ctx, req)
	if err != nil {
		return nil, err
	}
	if cs := rules.Detect(r, s.registry.Current().Rules()); len(cs) > 0 {
		s.metrics.conflicts(cs)
		if !req.Force {
			return nil, &RuleConflictError{Conflicts: cs}
		}
		r.Forced = true
	}

	job := &CascadeJob{
		ID:        ulid.Make().String(),
		RuleID:    r.ID,
		Status:    JobRunning,
		StartedAt: s.now(),
	}
	s.jobs.put(job)

	// the cascade is not cancellable once started
	ctx = context.WithoutCancel(ctx)
	if wait {
		return s.runCascade(ctx, job, r, req.Force)
	}
	cp := *job
	go s.runCascade(ctx, job, r, req.Force) //nolint:errcheck // outcome is recorded on the job
	return &cp, nil
}

// runCascade executes the cascade for r and records its outcome on job.
func (s *Service) runCascade(ctx context.Context, job *CascadeJob, r *rules.Rule, force bool) (*CascadeJob, error) {
	start := time.Now()
	L := s.logger.With("job_id", job.ID, "rule_id", r.ID)

	counts, version, err := s.cascade(ctx, r, force)

	finished := s.now()
	job.FinishedAt = &finished
	job.CascadeCounts = counts
	job.Version = version
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		L.Error(ctx, err, "reclassification cascade failed")
	} else {
		job.Status = JobComplete
		L.Info(ctx, "reclassification cascade complete",
			"version", version,
			"mensajes_resueltos", counts.Resolved,
			"mensajes_reclasificados", counts.Reclassified,
			"mensajes_evaluados", counts.Evaluated,
			"duration", time.Since(start).Seconds(),
		)
	}
	s.jobs.put(job)
	s.metrics.cascade(job, time.Since(start))

	if nerr := s.notifier.CascadeCompleted(ctx, job); nerr != nil {
		L.Warn(ctx, "cascade notification failed", "error", nerr)
	}
	cp := *job
	return &cp, err
}

// cascade commits r and the re-scored backlog in one store write, then
// publishes the new snapshot. Nothing is visible if any step fails.
func (s *Service) cascade(ctx context.Context, r *rules.Rule, force bool) (CascadeCounts, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.registry.Current()
	// another confirmation may have landed since the first check
	if cs := rules.Detect(r, cur.Rules()); len(cs) > 0 && !force {
		return CascadeCounts{}, 0, &RuleConflictError{Conflicts: cs}
	}
	if r.Extends != "" {
		if _, ok := cur.Get(r.Extends); !ok {
			return CascadeCounts{}, 0, &RuleValidationError{Err: fmt.Errorf("ampliar_regla_id %s is no longer active", r.Extends)}
		}
	}

	next, err := cur.Next(r, r.Extends)
	if err != nil {
		return CascadeCounts{}, 0, &RuleValidationError{Err: err}
	}
	results, counts, err := s.rescore(ctx, next)
	if err != nil {
		return CascadeCounts{}, 0, err
	}
	if err := s.store.Commit(ctx, Commit{Rule: r, Deactivate: r.Extends, Results: results}); err != nil {
		return CascadeCounts{}, 0, fmt.Errorf("commit rule %s: %w", r.ID, err)
	}
	if err := s.registry.Publish(next); err != nil {
		return CascadeCounts{}, 0, err
	}
	return counts, next.Version(), nil
}

// Refresh re-scores the whole non-terminal backlog against the current rules.
func (s *Service) Refresh(ctx context.Context) (CascadeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results, counts, err := s.rescore(ctx, s.registry.Current())
	if err != nil {
		return CascadeCounts{}, err
	}
	if err := s.store.Commit(ctx, Commit{Results: results}); err != nil {
		return CascadeCounts{}, fmt.Errorf("commit refresh: %w", err)
	}
	s.logger.Info(ctx, "backlog refreshed",
		"mensajes_resueltos", counts.Resolved,
		"mensajes_reclasificados", counts.Reclassified,
		"mensajes_evaluados", counts.Evaluated,
	)
	return counts, nil
}

// rescore classifies every non-terminal message under snap. An escalated
// message whose IMPORTANTE findings all disappear is resolved; a pending or
// blocked message whose classification changed is counted as reclassified.
// Sent messages are never read.
func (s *Service) rescore(ctx context.Context, snap *rules.Snapshot) ([]Reclassified, CascadeCounts, error) {
	var counts CascadeCounts
	msgs, err := s.store.List(ctx, Filter{States: NonTerminal})
	if err != nil {
		return nil, counts, err
	}

	out := make([]Reclassified, 0, len(msgs))
	for _, m := range msgs {
		if m.Terminal() {
			continue
		}
		res, err := s.classify(snap, m.Input())
		if err != nil {
			return nil, CascadeCounts{}, fmt.Errorf("message %d: %w", m.ID, err)
		}
		counts.Evaluated++

		rc := Reclassified{ID: m.ID, From: m.State, Result: res}
		switch m.State {
		case StateEscalated:
			if len(m.Classification.Important) > 0 && len(res.Classification.Important) == 0 {
				rc.Resolve = true
				counts.Resolved++
			}
		default:
			if !m.Classification.Equal(res.Classification) {
				counts.Reclassified++
			}
		}
		out = append(out, rc)
	}
	return out, counts, nil
}

// IsConflict reports whether err rejected a rule because of conflicts, and
// returns them.
func IsConflict(err error) ([]rules.Conflict, bool) {
	var rce *RuleConflictError
	if errors.As(err, &rce) {
		return rce.Conflicts, true
	}
	return nil, false
}
