package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/michibiki/internal/model"
)

// HandleAnalyticsOverview handles GET /v1/analytics/overview.
func (h *Handlers) HandleAnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.OverviewStats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleAnalyticsRecent handles GET /v1/analytics/recent. The trailing
// window defaults to 24 hours, settable via ?hours=.
func (h *Handlers) HandleAnalyticsRecent(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 24*30 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "hours must be between 1 and 720")
			return
		}
		hours = n
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	activity, err := h.db.RecentActivity(r.Context(), since)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	activity.TimePeriodHours = hours
	writeJSON(w, r, http.StatusOK, activity)
}

// HandleAnalyticsPopular handles GET /v1/analytics/popular-manuals.
// Returns up to ?limit= manuals (default 5, max 20) ranked by session count.
func (h *Handlers) HandleAnalyticsPopular(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 20 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 20")
			return
		}
		limit = n
	}

	manuals, err := h.db.PopularManuals(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if manuals == nil {
		manuals = []model.PopularManual{}
	}
	writeJSON(w, r, http.StatusOK, manuals)
}

// HandleAnalyticsUser handles GET /v1/analytics/users/{user_id}.
func (h *Handlers) HandleAnalyticsUser(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.UserStats(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleAnalyticsSteps handles GET /v1/analytics/manuals/{manual_id}/steps.
func (h *Handlers) HandleAnalyticsSteps(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.StepAnalytics(r.Context(), r.PathValue("manual_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}
