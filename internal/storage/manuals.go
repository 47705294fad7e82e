package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/michibiki/internal/model"
)

// CreateManual inserts a manual and its steps atomically within a single
// transaction. The caller is responsible for step-contiguity validation;
// the unique constraint on (manual_id, step_number) is the backstop.
func (db *DB) CreateManual(ctx context.Context, manual model.Manual) (model.Manual, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Manual{}, fmt.Errorf("storage: begin create manual tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if manual.ID == uuid.Nil {
		manual.ID = uuid.New()
	}
	now := time.Now().UTC()
	manual.CreatedAt = now
	manual.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`INSERT INTO manuals (id, manual_id, title, total_steps, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		manual.ID, manual.ManualID, manual.Title, manual.TotalSteps, manual.CreatedAt, manual.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Manual{}, ErrManualExists
		}
		return model.Manual{}, fmt.Errorf("storage: create manual: %w", err)
	}

	for i := range manual.Steps {
		step := &manual.Steps[i]
		if step.ID == uuid.Nil {
			step.ID = uuid.New()
		}
		step.ManualID = manual.ID
		step.CreatedAt = now
		if _, err := tx.Exec(ctx,
			`INSERT INTO manual_steps (id, manual_id, step_number, title, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			step.ID, step.ManualID, step.StepNumber, step.Title, step.Content, step.CreatedAt,
		); err != nil {
			return model.Manual{}, fmt.Errorf("storage: create manual step %d: %w", step.StepNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Manual{}, fmt.Errorf("storage: commit create manual: %w", err)
	}

	sort.Slice(manual.Steps, func(i, j int) bool {
		return manual.Steps[i].StepNumber < manual.Steps[j].StepNumber
	})
	return manual, nil
}

// GetManualByExternalID returns a manual and its steps by external id.
func (db *DB) GetManualByExternalID(ctx context.Context, manualID string) (model.Manual, error) {
	manual, err := db.scanManual(ctx,
		`SELECT id, manual_id, title, total_steps, created_at, updated_at
		 FROM manuals WHERE manual_id = $1`, manualID)
	if err != nil {
		return model.Manual{}, err
	}
	if err := db.loadSteps(ctx, &manual); err != nil {
		return model.Manual{}, err
	}
	return manual, nil
}

// GetManualByID returns a manual and its steps by internal UUID.
func (db *DB) GetManualByID(ctx context.Context, id uuid.UUID) (model.Manual, error) {
	manual, err := db.scanManual(ctx,
		`SELECT id, manual_id, title, total_steps, created_at, updated_at
		 FROM manuals WHERE id = $1`, id)
	if err != nil {
		return model.Manual{}, err
	}
	if err := db.loadSteps(ctx, &manual); err != nil {
		return model.Manual{}, err
	}
	return manual, nil
}

// GetStep returns one step of a manual, or ErrManualNotFound if absent.
func (db *DB) GetStep(ctx context.Context, manualID uuid.UUID, stepNumber int) (model.ManualStep, error) {
	var s model.ManualStep
	err := db.pool.QueryRow(ctx,
		`SELECT id, manual_id, step_number, title, content, created_at
		 FROM manual_steps WHERE manual_id = $1 AND step_number = $2`,
		manualID, stepNumber,
	).Scan(&s.ID, &s.ManualID, &s.StepNumber, &s.Title, &s.Content, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ManualStep{}, ErrManualNotFound
	}
	if err != nil {
		return model.ManualStep{}, fmt.Errorf("storage: get step: %w", err)
	}
	return s, nil
}

// ListManuals returns manuals ordered newest first, with their steps, plus
// the total count for pagination.
func (db *DB) ListManuals(ctx context.Context, limit, offset int) ([]model.Manual, int, error) {
	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM manuals`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count manuals: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, manual_id, title, total_steps, created_at, updated_at
		 FROM manuals ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list manuals: %w", err)
	}
	defer rows.Close()

	var manuals []model.Manual
	for rows.Next() {
		var m model.Manual
		if err := rows.Scan(&m.ID, &m.ManualID, &m.Title, &m.TotalSteps, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan manual: %w", err)
		}
		manuals = append(manuals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range manuals {
		if err := db.loadSteps(ctx, &manuals[i]); err != nil {
			return nil, 0, err
		}
	}
	return manuals, total, nil
}

// DeleteManual removes a manual and its steps. Deletion is refused with
// ErrManualInUse while any session references the manual (enforced both by
// a pre-check and by the RESTRICT foreign key).
func (db *DB) DeleteManual(ctx context.Context, manualID string) error {
	manual, err := db.scanManual(ctx,
		`SELECT id, manual_id, title, total_steps, created_at, updated_at
		 FROM manuals WHERE manual_id = $1`, manualID)
	if err != nil {
		return err
	}

	var refs int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE manual_id = $1`, manual.ID,
	).Scan(&refs); err != nil {
		return fmt.Errorf("storage: count manual references: %w", err)
	}
	if refs > 0 {
		return ErrManualInUse
	}

	if _, err := db.pool.Exec(ctx, `DELETE FROM manuals WHERE id = $1`, manual.ID); err != nil {
		if isForeignKeyViolation(err) {
			return ErrManualInUse
		}
		return fmt.Errorf("storage: delete manual: %w", err)
	}
	return nil
}

func (db *DB) scanManual(ctx context.Context, query string, arg any) (model.Manual, error) {
	var m model.Manual
	err := db.pool.QueryRow(ctx, query, arg).Scan(
		&m.ID, &m.ManualID, &m.Title, &m.TotalSteps, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Manual{}, ErrManualNotFound
	}
	if err != nil {
		return model.Manual{}, fmt.Errorf("storage: get manual: %w", err)
	}
	return m, nil
}

func (db *DB) loadSteps(ctx context.Context, manual *model.Manual) error {
	rows, err := db.pool.Query(ctx,
		`SELECT id, manual_id, step_number, title, content, created_at
		 FROM manual_steps WHERE manual_id = $1 ORDER BY step_number ASC`,
		manual.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: load steps: %w", err)
	}
	defer rows.Close()

	manual.Steps = manual.Steps[:0]
	for rows.Next() {
		var s model.ManualStep
		if err := rows.Scan(&s.ID, &s.ManualID, &s.StepNumber, &s.Title, &s.Content, &s.CreatedAt); err != nil {
			return fmt.Errorf("storage: scan step: %w", err)
		}
		manual.Steps = append(manual.Steps, s)
	}
	return rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a Postgres foreign-key
// violation (SQLSTATE 23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
