// Package pgstore provides a PostgreSQL implementation of audit.Store.
package pgstore

import (
	"cmp"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/postgres"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

var tracer = otel.Tracer("github.com/szlapakariel-ux/auditoria-sofse/internal/audit/pgstore")

//go:embed schema.sql
var schema string

// Store persists messages and rules in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const messageColumns = `id, external_id, content, operator, line, sent_at, groups, import_error,
	imported_at, result, state, blocked, block_reason, escalated_by, validator_comment,
	escalated_at, resolved, assigned_to, processed_by, processed_at`

// start opens a span for one store operation and labels its queries.
func start(ctx context.Context, op, sqlOp string) (context.Context, trace.Span) {
	ctx = postgres.WithOperation(ctx, "pgstore."+op)
	return tracer.Start(ctx, "pgstore."+op, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", sqlOp),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Insert stores m unless its external id exists.
func (s *Store) Insert(ctx context.Context, m *audit.Message) (bool, error) {
	ctx, span := start(ctx, "Insert", "INSERT")
	defer span.End()

	resultJSON, err := json.Marshal(m.Result)
	if err != nil {
		return false, fail(span, fmt.Errorf("marshal result: %w", err))
	}

	groups := m.Groups
	if groups == nil {
		groups = []string{}
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO messages (
			external_id, content, operator, line, sent_at, groups, import_error, imported_at,
			result, level, ruleset_version, state, blocked, assigned_to
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id`,
		m.ExternalID, m.Content, m.Operator, m.Line, nullTime(m.SentAt), groups, m.ImportError, m.ImportedAt,
		resultJSON, string(m.Level), m.RulesetVersion, string(m.State), m.Blocked, m.AssignedTo,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetAttributes(attribute.Bool("audit.duplicate", true))
		return false, nil
	}
	if err != nil {
		return false, fail(span, fmt.Errorf("insert message %s: %w", m.ExternalID, err))
	}
	m.ID = id
	return true, nil
}

// Get retrieves a message by id.
func (s *Store) Get(ctx context.Context, id int64) (*audit.Message, bool, error) {
	ctx, span := start(ctx, "Get", "SELECT")
	defer span.End()

	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if m == nil {
		return nil, false, nil
	}
	return m, true, nil
}

// List returns the messages matching f ordered by send time, then id.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]*audit.Message, error) {
	ctx, span := start(ctx, "List", "SELECT")
	defer span.End()

	where, args := filterClause(f)
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages`+where+` ORDER BY sent_at NULLS FIRST, id`, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query messages: %w", err))
	}
	out, err := collectMessages(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// filterClause renders f as a WHERE clause with positional arguments.
func filterClause(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		conds = append(conds, "state = ANY("+arg(states)+")")
	}
	if f.Line != "" {
		conds = append(conds, "line = "+arg(f.Line))
	}
	if f.AssignedTo != "" {
		conds = append(conds, "assigned_to = "+arg(f.AssignedTo))
	}
	if f.Blocked != nil {
		conds = append(conds, "blocked = "+arg(*f.Blocked))
	}
	if f.Unresolved {
		conds = append(conds, "NOT resolved")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Update writes the workflow fields of m if the stored state is still from.
func (s *Store) Update(ctx context.Context, m *audit.Message, from audit.State) error {
	ctx, span := start(ctx, "Update", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET
			state = $3, blocked = $4, block_reason = $5, escalated_by = $6,
			validator_comment = $7, escalated_at = $8, resolved = $9, assigned_to = $10,
			processed_by = $11, processed_at = $12
		WHERE id = $1 AND state = $2`,
		m.ID, string(from), string(m.State), m.Blocked, m.BlockReason, m.EscalatedBy,
		m.ValidatorComment, m.EscalatedAt, m.Resolved, m.AssignedTo,
		m.ProcessedBy, m.ProcessedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("update message %d: %w", m.ID, err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
		return fail(span, fmt.Errorf("check message %d: %w", m.ID, err))
	}
	if !exists {
		return fail(span, fmt.Errorf("message %d: %w", m.ID, audit.ErrNotFound))
	}
	return audit.ErrStaleState
}

// ClaimBatch assigns up to n free pending messages of line to validator.
// Rows locked by a concurrent claim are skipped.
func (s *Store) ClaimBatch(ctx context.Context, line, validator string, n int) ([]*audit.Message, error) {
	ctx, span := start(ctx, "ClaimBatch", "UPDATE")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`UPDATE messages SET assigned_to = $3
		WHERE id IN (
			SELECT id FROM messages
			WHERE line = $1 AND state = 'PENDIENTE' AND NOT blocked AND assigned_to = ''
			ORDER BY sent_at NULLS FIRST, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+messageColumns,
		line, n, validator,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("claim batch: %w", err))
	}
	out, err := collectMessages(rows)
	if err != nil {
		return nil, fail(span, err)
	}
	slices.SortFunc(out, func(a, b *audit.Message) int {
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// Release unassigns the validator's unprocessed pending messages.
func (s *Store) Release(ctx context.Context, validator string) (int, error) {
	ctx, span := start(ctx, "Release", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET assigned_to = ''
		WHERE assigned_to = $1 AND state = 'PENDIENTE' AND NOT blocked`, validator)
	if err != nil {
		return 0, fail(span, fmt.Errorf("release %s: %w", validator, err))
	}
	return int(tag.RowsAffected()), nil
}

// PendingByLine counts free pending messages per line.
func (s *Store) PendingByLine(ctx context.Context) (map[string]int, error) {
	ctx, span := start(ctx, "PendingByLine", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT line, count(*) FROM messages
		WHERE state = 'PENDIENTE' AND NOT blocked AND assigned_to = ''
		GROUP BY line`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("count pending: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			line string
			n    int
		)
		if err := rows.Scan(&line, &n); err != nil {
			return nil, fail(span, fmt.Errorf("scan pending count: %w", err))
		}
		out[line] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate pending counts: %w", err))
	}
	return out, nil
}

// Rules returns every stored rule, active or not, oldest first.
func (s *Store) Rules(ctx context.Context) ([]rules.Rule, error) {
	ctx, span := start(ctx, "Rules", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT body, active FROM rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query rules: %w", err))
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			body   []byte
			active bool
			r      rules.Rule
		)
		if err := rows.Scan(&body, &active); err != nil {
			return nil, fail(span, fmt.Errorf("scan rule: %w", err))
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal rule: %w", err))
		}
		r.Active = active
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate rules: %w", err))
	}
	return out, nil
}

// Commit writes a rule change and its reclassifications in one transaction.
// Each reclassification only lands if the message is still in the state the
// cascade read and that state is not terminal.
func (s *Store) Commit(ctx context.Context, c audit.Commit) error {
	ctx, span := start(ctx, "Commit", "TRANSACTION")
	defer span.End()
	span.SetAttributes(attribute.Int("audit.reclassified", len(c.Results)))
	if c.Rule != nil {
		span.SetAttributes(attribute.String("audit.rule_id", c.Rule.ID))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if c.Deactivate != "" {
		tag, err := tx.Exec(ctx, `UPDATE rules SET active = false WHERE id = $1`, c.Deactivate)
		if err != nil {
			return fail(span, fmt.Errorf("deactivate rule %s: %w", c.Deactivate, err))
		}
		if tag.RowsAffected() == 0 {
			return fail(span, fmt.Errorf("rule %s: %w", c.Deactivate, audit.ErrNotFound))
		}
	}

	if c.Rule != nil {
		if err := insertRule(ctx, tx, c.Rule); err != nil {
			return fail(span, err)
		}
	}

	if len(c.Results) > 0 {
		if err := applyResults(ctx, tx, c.Results); err != nil {
			return fail(span, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertRule(ctx context.Context, tx pgx.Tx, r *rules.Rule) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", r.ID, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO rules (id, scope, kind, active, forced, extends, created_by, created_at, body)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.Scope, string(r.Kind), r.Active, r.Forced, r.Extends, r.CreatedBy, r.CreatedAt, body,
	)
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", r.ID, err)
	}
	return nil
}

func applyResults(ctx context.Context, tx pgx.Tx, results []audit.Reclassified) error {
	batch := &pgx.Batch{}
	for _, rc := range results {
		resultJSON, err := json.Marshal(rc.Result)
		if err != nil {
			return fmt.Errorf("marshal result for message %d: %w", rc.ID, err)
		}
		batch.Queue(
			`UPDATE messages SET
				result = $3, level = $4, ruleset_version = $5,
				resolved = resolved OR ($6 AND state = 'DERIVADO')
			WHERE id = $1 AND state = $2 AND state <> 'ENVIADO' AND NOT (state = 'DERIVADO' AND resolved)`,
			rc.ID, string(rc.From), resultJSON, string(rc.Result.Level), rc.Result.RulesetVersion, rc.Resolve,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for _, rc := range results {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("reclassify message %d: %w", rc.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

func collectMessages(rows pgx.Rows) ([]*audit.Message, error) {
	defer rows.Close()
	var out []*audit.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// scanMessage scans one row of messageColumns. Returns (nil, nil) when no row
// is found.
func scanMessage(row pgx.Row) (*audit.Message, error) {
	var (
		m          audit.Message
		sentAt     *time.Time
		resultJSON []byte
		state      string
	)
	err := row.Scan(
		&m.ID, &m.ExternalID, &m.Content, &m.Operator, &m.Line, &sentAt, &m.Groups, &m.ImportError,
		&m.ImportedAt, &resultJSON, &state, &m.Blocked, &m.BlockReason, &m.EscalatedBy, &m.ValidatorComment,
		&m.EscalatedAt, &m.Resolved, &m.AssignedTo, &m.ProcessedBy, &m.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	if sentAt != nil {
		m.SentAt = *sentAt
	}
	m.State = audit.State(state)
	if err := json.Unmarshal(resultJSON, &m.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result of message %d: %w", m.ID, err)
	}
	return &m, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
