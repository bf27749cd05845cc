package auditapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// maxImportRecords caps one import request.
const maxImportRecords = 5000

type importRequest struct {
	Records []audit.RawRecord `json:"mensajes"`
}

type userRequest struct {
	User string `json:"usuario"`
}

type actionRequest struct {
	Action  audit.Action `json:"accion"`
	User    string       `json:"usuario"`
	Comment string       `json:"comentario,omitempty"`
}

type previewRequest struct {
	Content string    `json:"contenido"`
	Line    string    `json:"linea"`
	SentAt  time.Time `json:"fecha_hora"`
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, `{"error":"no records"}`, http.StatusBadRequest)
		return
	}
	if len(req.Records) > maxImportRecords {
		http.Error(w, `{"error":"too many records"}`, http.StatusRequestEntityTooLarge)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("auditoria.import.records", len(req.Records)))

	res := a.svc.Import(r.Context(), req.Records)

	span.SetAttributes(
		attribute.Int("auditoria.import.new", res.New),
		attribute.Int("auditoria.import.duplicates", res.Duplicates),
		attribute.Int("auditoria.import.errors", res.Errors),
	)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	res, err := a.svc.Preview(classify.Input{Content: req.Content, Line: req.Line, SentAt: req.SentAt})
	if err != nil {
		a.writeServiceError(w, r, err, "classification preview failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLines(w http.ResponseWriter, r *http.Request) {
	counts, err := a.svc.Lines(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err, "failed to count pending messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lineas": counts})
}

func (a *API) handleNextBatch(w http.ResponseWriter, r *http.Request) {
	line := chi.URLParam(r, "linea")
	var req userRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.User) == "" {
		http.Error(w, `{"error":"usuario is required"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("auditoria.line", line))

	batch, err := a.svc.NextBatch(r.Context(), line, req.User)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to serve batch", "linea", line, "usuario", req.User)
		return
	}
	span.SetAttributes(attribute.Int("auditoria.batch.size", len(batch.Messages)))
	writeJSON(w, http.StatusOK, batch)
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.User) == "" {
		http.Error(w, `{"error":"usuario is required"}`, http.StatusBadRequest)
		return
	}
	n, err := a.svc.Release(r.Context(), req.User)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to release assignments", "usuario", req.User)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"liberados": n})
}

func (a *API) handleBlocked(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("usuario")
	if strings.TrimSpace(user) == "" {
		http.Error(w, `{"error":"usuario is required"}`, http.StatusBadRequest)
		return
	}
	msgs, err := a.svc.Blocked(r.Context(), user)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list blocked messages", "usuario", user)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mensajes": msgs})
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	m, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get message", "message_id", id)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("auditoria.message.state", string(m.State)))
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.User) == "" {
		http.Error(w, `{"error":"usuario is required"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("auditoria.action", string(req.Action)))

	res, err := a.svc.Act(r.Context(), id, req.Action, req.User, req.Comment)
	if err != nil {
		a.writeServiceError(w, r, err, "validator action failed", "message_id", id, "accion", req.Action)
		return
	}
	span.SetAttributes(attribute.String("auditoria.message.state", string(res.Message.State)))
	writeJSON(w, http.StatusOK, res)
}
