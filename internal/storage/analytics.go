package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/michibiki/internal/model"
)

// OverviewStats aggregates system-wide counts for the analytics endpoint.
func (db *DB) OverviewStats(ctx context.Context) (model.OverviewStats, error) {
	var stats model.OverviewStats
	err := db.pool.QueryRow(ctx,
		`SELECT
		     COUNT(*),
		     COUNT(*) FILTER (WHERE status = 'active'),
		     COUNT(*) FILTER (WHERE status = 'completed'),
		     COUNT(*) FILTER (WHERE status = 'abandoned')
		 FROM sessions`,
	).Scan(&stats.Sessions.Total, &stats.Sessions.Active, &stats.Sessions.Completed, &stats.Sessions.Abandoned)
	if err != nil {
		return model.OverviewStats{}, fmt.Errorf("storage: session stats: %w", err)
	}

	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM manuals`).Scan(&stats.TotalManuals); err != nil {
		return model.OverviewStats{}, fmt.Errorf("storage: count manuals: %w", err)
	}
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversation_messages`).Scan(&stats.TotalMessages); err != nil {
		return model.OverviewStats{}, fmt.Errorf("storage: count messages: %w", err)
	}

	if stats.Sessions.Total > 0 {
		stats.CompletionRatePercent = float64(stats.Sessions.Completed) / float64(stats.Sessions.Total) * 100
	}
	return stats, nil
}

// RecentActivity aggregates counts for the trailing window ending now.
func (db *DB) RecentActivity(ctx context.Context, since time.Time) (model.RecentActivity, error) {
	var a model.RecentActivity
	err := db.pool.QueryRow(ctx,
		`SELECT
		     (SELECT COUNT(*) FROM sessions WHERE created_at >= $1),
		     (SELECT COUNT(*) FROM sessions WHERE status = 'completed' AND ended_at >= $1),
		     (SELECT COUNT(*) FROM progress_events WHERE created_at >= $1),
		     (SELECT COUNT(*) FROM conversation_messages WHERE created_at >= $1)`,
		since,
	).Scan(&a.NewSessions, &a.CompletedSessions, &a.ProgressUpdates, &a.Messages)
	if err != nil {
		return model.RecentActivity{}, fmt.Errorf("storage: recent activity: %w", err)
	}
	return a, nil
}

// PopularManuals ranks manuals by session count, descending. Manuals with no
// sessions are excluded.
func (db *DB) PopularManuals(ctx context.Context, limit int) ([]model.PopularManual, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT m.manual_id, m.title, m.total_steps,
		        COUNT(s.id),
		        COUNT(s.id) FILTER (WHERE s.status = 'completed')
		 FROM manuals m
		 JOIN sessions s ON s.manual_id = m.id
		 GROUP BY m.id
		 ORDER BY COUNT(s.id) DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: popular manuals: %w", err)
	}
	defer rows.Close()

	var result []model.PopularManual
	for rows.Next() {
		var p model.PopularManual
		if err := rows.Scan(&p.ManualID, &p.Title, &p.TotalSteps, &p.SessionCount, &p.CompletedCount); err != nil {
			return nil, fmt.Errorf("storage: scan popular manual: %w", err)
		}
		if p.SessionCount > 0 {
			p.CompletionRatePercent = float64(p.CompletedCount) / float64(p.SessionCount) * 100
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// UserStats aggregates one user's session and message counts.
func (db *DB) UserStats(ctx context.Context, userID string) (model.UserStats, error) {
	stats := model.UserStats{UserID: userID}
	err := db.pool.QueryRow(ctx,
		`SELECT
		     COUNT(*),
		     COUNT(*) FILTER (WHERE status = 'active'),
		     COUNT(*) FILTER (WHERE status = 'completed'),
		     COUNT(*) FILTER (WHERE status = 'abandoned')
		 FROM sessions WHERE user_id = $1`,
		userID,
	).Scan(&stats.Sessions.Total, &stats.Sessions.Active, &stats.Sessions.Completed, &stats.Sessions.Abandoned)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("storage: user session stats: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM conversation_messages cm
		 JOIN sessions s ON s.id = cm.session_id
		 WHERE s.user_id = $1`,
		userID,
	).Scan(&stats.TotalMessages)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("storage: user message count: %w", err)
	}
	return stats, nil
}

// StepAnalytics aggregates per-step attempt and completion counts for one
// manual's progress events.
func (db *DB) StepAnalytics(ctx context.Context, manualID string) (model.StepAnalytics, error) {
	manual, err := db.scanManual(ctx,
		`SELECT id, manual_id, title, total_steps, created_at, updated_at
		 FROM manuals WHERE manual_id = $1`, manualID)
	if err != nil {
		return model.StepAnalytics{}, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT pe.step_number,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE pe.step_status = 'DONE')
		 FROM progress_events pe
		 JOIN sessions s ON s.id = pe.session_id
		 WHERE s.manual_id = $1
		 GROUP BY pe.step_number
		 ORDER BY pe.step_number ASC`,
		manual.ID,
	)
	if err != nil {
		return model.StepAnalytics{}, fmt.Errorf("storage: step analytics: %w", err)
	}
	defer rows.Close()

	result := model.StepAnalytics{
		ManualID:   manual.ManualID,
		Title:      manual.Title,
		TotalSteps: manual.TotalSteps,
	}
	for rows.Next() {
		var s model.StepStats
		if err := rows.Scan(&s.StepNumber, &s.Attempts, &s.Completions); err != nil {
			return model.StepAnalytics{}, fmt.Errorf("storage: scan step stats: %w", err)
		}
		if s.Attempts > 0 {
			s.CompletionRatePercent = float64(s.Completions) / float64(s.Attempts) * 100
		}
		result.Steps = append(result.Steps, s)
	}
	return result, rows.Err()
}
