package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// DefaultBatchSize is how many messages a validator is served at once.
const DefaultBatchSize = 5

// DefaultJobTTL is how long finished cascade jobs can be polled.
const DefaultJobTTL = time.Hour

// Notifier is told about escalations and finished cascades. Failures are
// logged and never affect the workflow.
type Notifier interface {
	Escalated(ctx context.Context, m *Message) error
	CascadeCompleted(ctx context.Context, job *CascadeJob) error
}

type nopNotifier struct{}

func (nopNotifier) Escalated(context.Context, *Message) error { return nil }
func (nopNotifier) CascadeCompleted(context.Context, *CascadeJob) error { return nil }

// Options tunes a Service. Zero values take defaults.
type Options struct {
	BatchSize int
	JobTTL    time.Duration
	Notifier  Notifier
	Metrics   *Metrics
	Now       func() time.Time
}

// Service is the business boundary for auditing.
//
// Imports, workflow actions and reads hold the read side of mu; rule
// confirmations and refreshes hold the write side while they re-score the
// backlog, so an import is classified entirely under one rule snapshot.
type Service struct {
	store      Store
	classifier *classify.Classifier
	registry   *rules.Registry
	jobs       *jobRegistry
	notifier   Notifier
	metrics    *Metrics
	logger     log.Logger
	batchSize  int
	now        func() time.Time

	mu sync.RWMutex
}

// NewService creates a service. Call Load before serving.
func NewService(store Store, classifier *classify.Classifier, logger log.Logger, opts Options) *Service {
	if store == nil {
		panic(xerrors.New("audit: store is required"))
	}
	if classifier == nil {
		panic(xerrors.New("audit: classifier is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = DefaultJobTTL
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:      store,
		classifier: classifier,
		registry:   rules.NewRegistry(nil),
		jobs:       newJobRegistry(opts.JobTTL),
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     logger,
		batchSize:  opts.BatchSize,
		now:        opts.Now,
	}
}

// Load publishes a snapshot of the stored active rules.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.Rules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	ptrs := make([]*rules.Rule, len(stored))
	for i := range stored {
		ptrs[i] = &stored[i]
	}
	snap, err := rules.NewSnapshot(s.registry.Current().Version()+1, ptrs)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if err := s.registry.Publish(snap); err != nil {
		return err
	}
	s.logger.Info(ctx, "rules loaded", "active", snap.Len(), "version", snap.Version())
	return nil
}

// Snapshot returns the rule snapshot in effect.
func (s *Service) Snapshot() *rules.Snapshot { return s.registry.Current() }

// Preview classifies in against the current rules without storing anything.
func (s *Service) Preview(in classify.Input) (*classify.Result, error) {
	res, err := s.classify(s.registry.Current(), in)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// classify runs the engine and contains a panic to the one message.
func (s *Service) classify(snap *rules.Snapshot, in classify.Input) (res classify.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panicked()
			err = fmt.Errorf("classification panicked: %v", r)
		}
	}()
	res = *snap.Classify(s.classifier, in)
	s.metrics.classified(res.Level)
	return res, nil
}

// failedResult marks a message whose classification could not run.
func failedResult(version int64) classify.Result {
	r := classify.Result{
		Type: classify.TypeUnknown,
		Findings: []classify.Finding{{
			Code:   "error_clasificacion",
			Axis:   classify.AxisComponents,
			Bucket: classify.BucketImportant,
			Text:   "No se pudo clasificar el mensaje",
		}},
	}
	classify.Finalize(&r)
	r.RulesetVersion = version
	return r
}

// Import stores and classifies a batch of raw records. Each record is
// isolated: a malformed record or a store failure counts one error and the
// rest of the batch proceeds.
func (s *Service) Import(ctx context.Context, records []RawRecord) ImportResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	L := s.logger
	snap := s.registry.Current()
	res := ImportResult{}

	for _, rec := range records {
		m, verr := s.newMessage(rec)
		if m == nil {
			res.Errors++
			res.Failures = append(res.Failures, ImportFailure{ExternalID: rec.ExternalID, Error: verr.Error()})
			continue
		}

		result, cerr := s.classify(snap, m.Input())
		if cerr != nil {
			L.Error(ctx, cerr, "classification failed on import", "numero_mensaje", m.ExternalID)
			result = failedResult(snap.Version())
			m.ImportError = joinNotes(m.ImportError, cerr.Error())
		}
		m.Result = result

		inserted, err := s.store.Insert(ctx, m)
		switch {
		case err != nil:
			L.Error(ctx, err, "failed to store imported message", "numero_mensaje", m.ExternalID)
			res.Errors++
			res.Failures = append(res.Failures, ImportFailure{ExternalID: m.ExternalID, Error: err.Error()})
		case !inserted:
			res.Duplicates++
		case m.ImportError != "":
			L.Warn(ctx, "message imported with errors", "numero_mensaje", m.ExternalID, "id", m.ID, "error", m.ImportError)
			res.Errors++
			res.Failures = append(res.Failures, ImportFailure{ExternalID: m.ExternalID, Error: m.ImportError})
		default:
			res.New++
		}
	}

	s.metrics.imported(res)
	L.Info(ctx, "import complete", "nuevos", res.New, "duplicados", res.Duplicates, "errores", res.Errors)
	return res
}

// newMessage builds a pending message from rec. It returns nil when the record
// has no external id and so cannot be stored.
func (s *Service) newMessage(rec RawRecord) (*Message, error) {
	id := strings.TrimSpace(rec.ExternalID)
	if id == "" {
		return nil, &ValidationInputError{Fields: []string{"numero_mensaje"}}
	}
	m := &Message{
		ExternalID: id,
		Content:    strings.TrimSpace(rec.Content),
		Operator:   strings.TrimSpace(rec.Operator),
		Line:       strings.TrimSpace(rec.Line),
		SentAt:     rec.SentAt,
		Groups:     rec.Groups,
		ImportedAt: s.now(),
		State:      StatePending,
	}
	var missing []string
	if m.Content == "" {
		missing = append(missing, "contenido")
	}
	if m.Line == "" {
		missing = append(missing, "linea")
	}
	if m.SentAt.IsZero() {
		missing = append(missing, "fecha_hora")
	}
	if len(missing) > 0 {
		m.ImportError = (&ValidationInputError{ExternalID: id, Fields: missing}).Error()
	}
	return m, nil
}

func joinNotes(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

// Get returns a message, re-scored first if its rule version is old.
func (s *Service) Get(ctx context.Context, id int64) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refreshStale(ctx, []*Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) get(ctx context.Context, id int64) (*Message, error) {
	m, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return m, nil
}

// refreshStale re-scores the non-terminal messages in msgs whose rule version
// is not the current one, updating them in place. Callers hold mu.
func (s *Service) refreshStale(ctx context.Context, msgs []*Message) error {
	snap := s.registry.Current()
	var (
		updates []Reclassified
		stale   []*Message
	)
	for _, m := range msgs {
		if m.Terminal() || m.RulesetVersion == snap.Version() {
			continue
		}
		res, err := s.classify(snap, m.Input())
		if err != nil {
			return fmt.Errorf("message %d: %w", m.ID, err)
		}
		updates = append(updates, Reclassified{ID: m.ID, From: m.State, Result: res})
		stale = append(stale, m)
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.store.Commit(ctx, Commit{Results: updates}); err != nil {
		return fmt.Errorf("refresh stale messages: %w", err)
	}
	for i, m := range stale {
		m.Result = updates[i].Result
	}
	s.metrics.refreshed(len(updates))
	return nil
}

// ErrorQueue lists escalated messages awaiting the admin.
func (s *Service) ErrorQueue(ctx context.Context) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, err := s.store.List(ctx, Filter{States: []State{StateEscalated}, Unresolved: true})
	if err != nil {
		return nil, err
	}
	if err := s.refreshStale(ctx, msgs); err != nil {
		return nil, err
	}
	return nonNil(msgs), nil
}

// Return sends an escalated message back to the validator who reported it,
// blocked, with the admin's explanation.
func (s *Service) Return(ctx context.Context, id int64, admin, explanation string) (*Message, error) {
	return s.adminAction(ctx, id, ActionReturn, admin, explanation)
}

// Unblock returns a blocked message to the pending queue.
func (s *Service) Unblock(ctx context.Context, id int64, admin string) (*Message, error) {
	return s.adminAction(ctx, id, ActionUnblock, admin, "")
}

// Resolve closes an escalated message without returning it.
func (s *Service) Resolve(ctx context.Context, id int64, admin string) (*Message, error) {
	return s.adminAction(ctx, id, ActionResolve, admin, "")
}

func (s *Service) adminAction(ctx context.Context, id int64, a Action, admin, note string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, m, a, admin, note); err != nil {
		return nil, err
	}
	return m, nil
}

// transition applies a and persists it with the optimistic state check.
func (s *Service) transition(ctx context.Context, m *Message, a Action, actor, note string) error {
	from, err := Transition(m, a, actor, note, s.now())
	if err == nil {
		err = s.store.Update(ctx, m, from)
	}
	s.metrics.transition(a, err)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "message transition",
		"message_id", m.ID,
		"action", a,
		"from", from,
		"to", m.State,
		"actor", actor,
	)
	return nil
}

func nonNil(msgs []*Message) []*Message {
	if msgs == nil {
		return []*Message{}
	}
	return msgs
}

// IsValidation reports whether err is caused by bad caller input.
func IsValidation(err error) bool {
	var (
		vie *ValidationInputError
		rve *RuleValidationError
	)
	return errors.Is(err, ErrCommentRequired) || errors.As(err, &vie) || errors.As(err, &rve)
}
