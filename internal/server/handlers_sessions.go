package server

import (
	"net/http"

	"github.com/ashita-ai/michibiki/internal/model"
)

// HandleCreateSession handles POST /v1/sessions.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.SessionCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body: "+err.Error())
		return
	}
	if req.SessionID == "" || req.UserID == "" || req.ManualID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id, user_id and manual_id are required")
		return
	}

	view, err := h.sessionSvc.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, view)
}

// HandleGetSession handles GET /v1/sessions/{session_id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessionSvc.Get(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// HandleListSessions handles GET /v1/sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	filter := model.SessionFilter{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  limit,
		Offset: offset,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.SessionStatus(s)
		if !status.Valid() {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "status must be one of active, completed, abandoned")
			return
		}
		filter.Status = status
	}

	list, total, err := h.sessionSvc.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeList(w, r, list, total, limit, offset)
}

// HandleUpdateSession handles PATCH /v1/sessions/{session_id}. The only
// supported mutation is a transition to a terminal status.
func (h *Handlers) HandleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req model.SessionUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body: "+err.Error())
		return
	}
	if !req.Status.Valid() || !req.Status.Terminal() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "status must be completed or abandoned")
		return
	}

	view, err := h.sessionSvc.End(r.Context(), r.PathValue("session_id"), req.Status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// HandleDeleteSession handles DELETE /v1/sessions/{session_id}.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionSvc.Delete(r.Context(), r.PathValue("session_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"deleted": r.PathValue("session_id")})
}

// HandleSubmitProgress handles POST /v1/sessions/{session_id}/progress.
func (h *Handlers) HandleSubmitProgress(w http.ResponseWriter, r *http.Request) {
	var req model.ProgressUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body: "+err.Error())
		return
	}
	if !req.StepStatus.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "step_status must be DONE or ONGOING")
		return
	}

	result, err := h.engine.SubmitProgress(r.Context(), r.PathValue("session_id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleNextStep handles GET /v1/sessions/{session_id}/next-step.
func (h *Handlers) HandleNextStep(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.NextStep(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleProgressHistory handles GET /v1/sessions/{session_id}/progress.
func (h *Handlers) HandleProgressHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	events, total, err := h.engine.History(r.Context(), r.PathValue("session_id"), limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeList(w, r, events, total, limit, offset)
}

// HandleAddMessage handles POST /v1/sessions/{session_id}/messages.
func (h *Handlers) HandleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req model.MessageCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	msg, err := h.messageSvc.Add(r.Context(), r.PathValue("session_id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, msg)
}

// HandleListMessages handles GET /v1/sessions/{session_id}/messages.
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	msgs, total, err := h.messageSvc.List(r.Context(), r.PathValue("session_id"), limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeList(w, r, msgs, total, limit, offset)
}
