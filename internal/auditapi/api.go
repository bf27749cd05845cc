// Package auditapi exposes the audit workflow, rule management and rule
// authoring over HTTP.
package auditapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/authmw"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/authoring"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// AuditService defines the business operations auditapi needs.
type AuditService interface {
	Import(ctx context.Context, records []audit.RawRecord) audit.ImportResult
	Preview(in classify.Input) (*classify.Result, error)
	Get(ctx context.Context, id int64) (*audit.Message, error)

	Lines(ctx context.Context) (map[string]int, error)
	NextBatch(ctx context.Context, line, validator string) (*audit.Batch, error)
	Release(ctx context.Context, validator string) (int, error)
	Blocked(ctx context.Context, validator string) ([]*audit.Message, error)
	Act(ctx context.Context, id int64, a audit.Action, validator, comment string) (*audit.ActionResult, error)

	ErrorQueue(ctx context.Context) ([]*audit.Message, error)
	Return(ctx context.Context, id int64, admin, explanation string) (*audit.Message, error)
	Unblock(ctx context.Context, id int64, admin string) (*audit.Message, error)
	Resolve(ctx context.Context, id int64, admin string) (*audit.Message, error)

	Rules() []rules.Rule
	SearchRules(q rules.Query) []rules.Match
	CheckConflicts(ctx context.Context, req audit.ConfirmRequest) ([]rules.Conflict, *rules.Rule, error)
	Confirm(ctx context.Context, req audit.ConfirmRequest, wait bool) (*audit.CascadeJob, error)
	Job(ctx context.Context, id string) (*audit.CascadeJob, error)
}

// Author runs one rule authoring turn.
type Author interface {
	Turn(ctx context.Context, req authoring.TurnRequest) (*authoring.Turn, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AuditService
	author Author
	tokens map[authmw.Role]string
}

// New creates a new API handler. author may be nil, in which case the
// authoring endpoint answers 503.
func New(logger log.Logger, svc AuditService, author Author) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("audit service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		author: author,
	}
}

// RequireTokens gates every route behind bearer tokens. Validator routes
// accept either token, admin routes only the admin token. Without tokens the
// API is open.
func (a *API) RequireTokens(tokens map[authmw.Role]string) *API {
	a.tokens = tokens
	return a
}

func (a *API) gated() bool {
	return a.tokens[authmw.RoleAdmin] != "" || a.tokens[authmw.RoleValidator] != ""
}

func (a *API) require(role authmw.Role) func(http.Handler) http.Handler {
	if !a.gated() {
		return func(next http.Handler) http.Handler { return next }
	}
	return authmw.Require(role)
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.gated() {
			r.Use(authmw.Bearer(a.tokens))
		}

		r.Group(func(r chi.Router) {
			r.Use(a.require(authmw.RoleValidator))
			r.Get("/lines", a.handleLines)
			r.Post("/lines/{linea}/batch", a.handleNextBatch)
			r.Post("/batch/release", a.handleRelease)
			r.Get("/blocked", a.handleBlocked)
			r.Get("/messages/{id}", a.handleGetMessage)
			r.Post("/messages/{id}/action", a.handleAction)
			r.Post("/classify", a.handlePreview)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.require(authmw.RoleAdmin))
			r.Post("/import", a.handleImport)
			r.Get("/errors", a.handleErrorQueue)
			r.Post("/errors/{id}/return", a.handleReturn)
			r.Post("/errors/{id}/unblock", a.handleUnblock)
			r.Post("/errors/{id}/resolve", a.handleResolve)
			r.Get("/rules", a.handleListRules)
			r.Get("/rules/search", a.handleSearchRules)
			r.Post("/rules/conflicts", a.handleConflicts)
			r.Post("/rules/chat", a.handleChat)
			r.Post("/rules/confirm", a.handleConfirm)
			r.Get("/cascades/{id}", a.handleGetCascade)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// messageID parses the {id} route parameter and tags the span with it.
func messageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, `{"error":"invalid message id"}`, http.StatusBadRequest)
		return 0, false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64("auditoria.message.id", id))
	return id, true
}

// writeServiceError maps a service error to a status code.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	var (
		illegal  *audit.IllegalTransitionError
		conflict *audit.RuleConflictError
		turn     *authoring.InvalidTurnError
	)
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      err.Error(),
			"conflictos": conflict.Conflicts,
		})
	case errors.As(err, &illegal), errors.Is(err, audit.ErrStaleState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, audit.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case audit.IsValidation(err), errors.As(err, &turn):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
