package auditapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/authoring"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

type chatRequest struct {
	MessageID      int64             `json:"mensaje_id"`
	ConversationID string            `json:"conversacion_id,omitempty"`
	Transcript     []authoring.Entry `json:"historial"`
	Utterance      string            `json:"mensaje_actual,omitempty"`
}

func (a *API) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rs := a.svc.Rules()
	if rs == nil {
		rs = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reglas": rs})
}

func (a *API) handleSearchRules(w http.ResponseWriter, r *http.Request) {
	q := rules.Query{
		Text:  r.URL.Query().Get("patron"),
		Regex: r.URL.Query().Get("regex"),
		Line:  r.URL.Query().Get("linea"),
	}
	if strings.TrimSpace(q.Text) == "" && strings.TrimSpace(q.Regex) == "" {
		http.Error(w, `{"error":"patron or regex is required"}`, http.StatusBadRequest)
		return
	}
	matches := a.svc.SearchRules(q)
	if matches == nil {
		matches = []rules.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reglas": matches})
}

func (a *API) handleConflicts(w http.ResponseWriter, r *http.Request) {
	var req audit.ConfirmRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	conflicts, candidate, err := a.svc.CheckConflicts(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err, "conflict check failed", "message_id", req.MessageID)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("auditoria.rule.conflicts", len(conflicts)))
	writeJSON(w, http.StatusOK, map[string]any{
		"conflictos": conflicts,
		"regla":      candidate,
	})
}

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	if a.author == nil {
		http.Error(w, `{"error":"rule authoring is not configured"}`, http.StatusServiceUnavailable)
		return
	}
	var req chatRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.MessageID <= 0 {
		http.Error(w, `{"error":"mensaje_id is required"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int64("auditoria.message.id", req.MessageID),
		attribute.Int("auditoria.chat.history", len(req.Transcript)),
	)

	m, err := a.svc.Get(r.Context(), req.MessageID)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to load message for authoring", "message_id", req.MessageID)
		return
	}

	turn, err := a.author.Turn(r.Context(), authoring.TurnRequest{
		ConversationID: req.ConversationID,
		Transcript:     req.Transcript,
		Utterance:      req.Utterance,
		Context:        authoring.ContextFor(m, a.svc.Rules()),
	})
	if err != nil {
		var ce *authoring.CollaboratorError
		if errors.As(err, &ce) {
			a.logger.Warn(r.Context(), "authoring collaborator failed", "message_id", req.MessageID, "error", err)
			transcript := req.Transcript
			if transcript == nil {
				transcript = []authoring.Entry{}
			}
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":            ce.Error(),
				"conexion_fallida": ce.ConnectionFailed,
				"historial":        transcript,
			})
			return
		}
		a.writeServiceError(w, r, err, "authoring turn failed", "message_id", req.MessageID)
		return
	}

	span.SetAttributes(
		attribute.String("auditoria.conversation.id", turn.ConversationID),
		attribute.Bool("auditoria.chat.proposal", turn.Proposal != nil),
	)
	writeJSON(w, http.StatusOK, turn)
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req audit.ConfirmRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Admin) == "" {
		http.Error(w, `{"error":"usuario is required"}`, http.StatusBadRequest)
		return
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int64("auditoria.message.id", req.MessageID),
		attribute.Bool("auditoria.rule.forced", req.Force),
	)

	job, err := a.svc.Confirm(r.Context(), req, wait)
	if err != nil {
		a.writeServiceError(w, r, err, "rule confirmation failed", "message_id", req.MessageID)
		return
	}
	span.SetAttributes(
		attribute.String("auditoria.rule.id", job.RuleID),
		attribute.String("auditoria.job.id", job.ID),
	)

	status := http.StatusAccepted
	if wait {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

func (a *API) handleGetCascade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("auditoria.job.id", id))

	job, err := a.svc.Job(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get cascade job", "job_id", id)
		return
	}
	span.SetAttributes(attribute.String("auditoria.job.status", string(job.Status)))
	writeJSON(w, http.StatusOK, job)
}
