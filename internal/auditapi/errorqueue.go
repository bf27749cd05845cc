package auditapi

import (
	"net/http"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
)

type adminRequest struct {
	User        string `json:"usuario"`
	Explanation string `json:"explicacion,omitempty"`
}

func (a *API) handleErrorQueue(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.svc.ErrorQueue(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list error queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mensajes": msgs})
}

func (a *API) handleReturn(w http.ResponseWriter, r *http.Request) {
	a.adminAction(w, r, audit.ActionReturn)
}

func (a *API) handleUnblock(w http.ResponseWriter, r *http.Request) {
	a.adminAction(w, r, audit.ActionUnblock)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	a.adminAction(w, r, audit.ActionResolve)
}

func (a *API) adminAction(w http.ResponseWriter, r *http.Request, action audit.Action) {
	id, ok := messageID(w, r)
	if !ok {
		return
	}
	var req adminRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.User) == "" {
		http.Error(w, `{"error":"usuario is required"}`, http.StatusBadRequest)
		return
	}

	var (
		m   *audit.Message
		err error
	)
	switch action {
	case audit.ActionReturn:
		m, err = a.svc.Return(r.Context(), id, req.User, req.Explanation)
	case audit.ActionUnblock:
		m, err = a.svc.Unblock(r.Context(), id, req.User)
	default:
		m, err = a.svc.Resolve(r.Context(), id, req.User)
	}
	if err != nil {
		a.writeServiceError(w, r, err, "admin action failed", "message_id", id, "accion", action)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
