package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

type (
	httpMethodKey struct{}
	operationKey  struct{}
	queryKey      struct{}
	statsKey      struct{}
)

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

type observerHolder struct{ QueryObserver }

var queryObserver atomic.Pointer[observerHolder]

// SetQueryObserver sets the global query observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	if h := queryObserver.Load(); h != nil {
		return h.QueryObserver
	}
	return nil
}

// QueryStats accumulates the queries issued on behalf of one request or
// one cascade.
type QueryStats struct {
	mu       sync.Mutex
	Count    int
	Errors   int
	Duration time.Duration
}

// Add records one query.
func (s *QueryStats) Add(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Count++
	s.Duration += dur
	if err != nil {
		s.Errors++
	}
}

// Snapshot returns the totals so far.
func (s *QueryStats) Snapshot() (count, errs int, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Count, s.Errors, s.Duration
}

// WithQueryStats attaches an empty QueryStats to ctx.
func WithQueryStats(ctx context.Context) (context.Context, *QueryStats) {
	s := &QueryStats{}
	return context.WithValue(ctx, statsKey{}, s), s
}

// QueryStatsFrom returns the QueryStats attached to ctx, if any.
func QueryStatsFrom(ctx context.Context) (*QueryStats, bool) {
	s, ok := ctx.Value(statsKey{}).(*QueryStats)
	return s, ok
}

// WithHTTPMethod stores the HTTP method in ctx for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

// WithOperation names the store operation issuing the queries in ctx.
// Queries outside an HTTP request, such as a cascade or a CLI command, are
// labelled by it.
func WithOperation(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFrom(ctx context.Context) string {
	op, _ := ctx.Value(operationKey{}).(string)
	return op
}

// queryLabels returns the method and route labels for a query. Queries with
// no HTTP request behind them are labelled BACKGROUND and by store operation.
func queryLabels(ctx context.Context) (method, route string) {
	method, _ = ctx.Value(httpMethodKey{}).(string)
	if rc := chi.RouteContext(ctx); rc != nil {
		route = rc.RoutePattern()
	}
	op := operationFrom(ctx)

	switch {
	case method != "":
	case op != "":
		method = "BACKGROUND"
	default:
		method = "UNKNOWN"
	}
	if route == "" {
		route = op
	}
	if route == "" {
		route = "unknown"
	}
	return method, route
}

// inflight is what TraceQueryStart hands to TraceQueryEnd.
type inflight struct {
	sql   string
	args  []any
	start time.Time
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) with a structured
// log line, metrics and QueryStats per query. With slow set, successful
// queries faster than slow are not logged.
type loggingTracer struct {
	inner pgx.QueryTracer
	slow  time.Duration
}

func wrapQueryTracer(inner pgx.QueryTracer, slow time.Duration) pgx.QueryTracer {
	return loggingTracer{inner: inner, slow: slow}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	q := &inflight{sql: data.SQL, args: data.Args, start: time.Now()}

	// otelpgx opens the DB span
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if op := operationFrom(ctx); op != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("db.store_operation", op))
		}
	}
	return context.WithValue(ctx, queryKey{}, q)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	q, _ := ctx.Value(queryKey{}).(*inflight)
	if q == nil {
		q = &inflight{}
	}
	var dur time.Duration
	if !q.start.IsZero() {
		dur = time.Since(q.start)
	}

	if s, ok := QueryStatsFrom(ctx); ok {
		s.Add(dur, data.Err)
	}
	if obs := getQueryObserver(); obs != nil && dur > 0 {
		method, route := queryLabels(ctx)
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, method, route, outcome, dur)
	}

	// a cascade issues one update per message; only slow ones are worth a line
	if t.slow > 0 && dur < t.slow && data.Err == nil {
		return
	}

	fields := []any{
		"db.statement", q.sql,
		"db.args", q.args,
		"db.duration", dur.Seconds(),
	}
	if op := operationFrom(ctx); op != "" {
		fields = append(fields, "db.store_operation", op)
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		verb, _, _ := strings.Cut(tag, " ")
		fields = append(fields,
			"db.operation.name", strings.ToUpper(verb),
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}
