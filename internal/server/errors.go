package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/progress"
	"github.com/ashita-ai/michibiki/internal/service/messages"
	"github.com/ashita-ai/michibiki/internal/service/sessions"
	"github.com/ashita-ai/michibiki/internal/storage"
)

// writeDomainError maps service and storage errors onto the HTTP error
// envelope. Unrecognized errors become opaque 500s; the detail stays in
// the logs.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrManualNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeManualNotFound, "manual not found")
	case errors.Is(err, storage.ErrManualExists):
		writeError(w, r, http.StatusConflict, model.ErrCodeManualExists, "manual with this id already exists")
	case errors.Is(err, storage.ErrManualInUse):
		writeError(w, r, http.StatusConflict, model.ErrCodeManualInUse, "manual is referenced by existing sessions")
	case errors.Is(err, storage.ErrSessionNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeSessionNotFound, "session not found")
	case errors.Is(err, storage.ErrSessionExists):
		writeError(w, r, http.StatusConflict, model.ErrCodeSessionExists, "session with this id already exists")
	case errors.Is(err, storage.ErrDuplicateProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeDuplicateProgress, "progress update with this idempotency key was already processed")
	case errors.Is(err, progress.ErrSessionEnded), errors.Is(err, sessions.ErrSessionEnded), errors.Is(err, messages.ErrSessionEnded):
		writeError(w, r, http.StatusConflict, model.ErrCodeSessionEnded, "session has already ended")
	case errors.Is(err, progress.ErrInvalidStep):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidStep, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}
