package server

import (
	"net/http"

	"github.com/ashita-ai/michibiki/internal/model"
)

// HandleCreateManual handles POST /v1/manuals.
func (h *Handlers) HandleCreateManual(w http.ResponseWriter, r *http.Request) {
	var req model.ManualCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	manual, err := h.manualSvc.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, manual)
}

// HandleGetManual handles GET /v1/manuals/{manual_id}.
func (h *Handlers) HandleGetManual(w http.ResponseWriter, r *http.Request) {
	manual, err := h.manualSvc.Get(r.Context(), r.PathValue("manual_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, manual)
}

// HandleListManuals handles GET /v1/manuals.
func (h *Handlers) HandleListManuals(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	list, total, err := h.manualSvc.List(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeList(w, r, list, total, limit, offset)
}

// HandleDeleteManual handles DELETE /v1/manuals/{manual_id}.
func (h *Handlers) HandleDeleteManual(w http.ResponseWriter, r *http.Request) {
	if err := h.manualSvc.Delete(r.Context(), r.PathValue("manual_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"deleted": r.PathValue("manual_id")})
}
