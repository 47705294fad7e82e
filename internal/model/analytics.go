package model

// OverviewStats is the system-wide analytics summary.
type OverviewStats struct {
	Sessions              SessionCounts `json:"sessions"`
	TotalManuals          int64         `json:"total_manuals"`
	TotalMessages         int64         `json:"total_messages"`
	CompletionRatePercent float64       `json:"completion_rate_percent"`
}

// SessionCounts breaks sessions down by status.
type SessionCounts struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Abandoned int64 `json:"abandoned"`
}

// RecentActivity is the activity summary for a trailing time window.
type RecentActivity struct {
	TimePeriodHours   int   `json:"time_period_hours"`
	NewSessions       int64 `json:"new_sessions"`
	CompletedSessions int64 `json:"completed_sessions"`
	ProgressUpdates   int64 `json:"progress_updates"`
	Messages          int64 `json:"messages"`
}

// PopularManual is one row of the most-used-manuals ranking.
type PopularManual struct {
	ManualID              string  `json:"manual_id"`
	Title                 string  `json:"title"`
	TotalSteps            int     `json:"total_steps"`
	SessionCount          int64   `json:"session_count"`
	CompletedCount        int64   `json:"completed_count"`
	CompletionRatePercent float64 `json:"completion_rate_percent"`
}

// UserStats summarizes one user's sessions and messages.
type UserStats struct {
	UserID        string        `json:"user_id"`
	Sessions      SessionCounts `json:"sessions"`
	TotalMessages int64         `json:"total_messages"`
}

// StepAnalytics is the per-step completion breakdown for one manual.
type StepAnalytics struct {
	ManualID   string      `json:"manual_id"`
	Title      string      `json:"title"`
	TotalSteps int         `json:"total_steps"`
	Steps      []StepStats `json:"step_analytics"`
}

// StepStats aggregates progress events for a single step number.
type StepStats struct {
	StepNumber            int     `json:"step_number"`
	Attempts              int64   `json:"attempts"`
	Completions           int64   `json:"completions"`
	CompletionRatePercent float64 `json:"completion_rate_percent"`
}

// MaintenanceStats reports sweeper health for the maintenance endpoint.
type MaintenanceStats struct {
	CleanupIntervalSeconds int               `json:"cleanup_interval_seconds"`
	SessionTimeoutMinutes  int               `json:"session_timeout_minutes"`
	ActiveSessions         int64             `json:"active_sessions"`
	SessionsAtRisk         int64             `json:"sessions_at_risk_of_timeout"`
	WebhookQueue           WebhookQueueStats `json:"webhook_retry_queue"`
}
