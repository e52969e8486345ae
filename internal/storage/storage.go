package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Storage handles all audit database operations
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Create inserts a new pending audit for url
func (s *Storage) Create(ctx context.Context, url string) (*domain.Job, error) {
	now := s.now().UTC()
	job := &domain.Job{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO audits (
			id, url, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.URL,
		string(job.Status),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create audit: %w", domain.ErrPersistence, err)
	}

	s.logger.Info("Audit created",
		slog.String("job_id", job.ID),
		slog.String("url", job.URL),
	)

	return job, nil
}

// GetByID retrieves an audit by its ID
func (s *Storage) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE id = $1`

	var row auditRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: failed to get audit: %w", domain.ErrPersistence, err)
	}

	return row.toDomain()
}

// FindRecent returns the most recently updated audit of url updated at or
// after since, or nil when there is none.
func (s *Storage) FindRecent(ctx context.Context, url string, since time.Time) (*domain.Job, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audits
		WHERE url = $1 AND updated_at >= $2
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var row auditRow
	if err := s.db.GetContext(ctx, &row, query, url, since.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to find recent audit: %w", domain.ErrPersistence, err)
	}

	return row.toDomain()
}

// Update merges the non-nil fields of update into the audit.
// Status changes only apply to pending audits.
func (s *Storage) Update(ctx context.Context, id string, update domain.JobUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	query, args, err := buildUpdateQuery(id, update, s.now().UTC())
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: failed to update audit: %w", domain.ErrPersistence, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get rows affected: %w", domain.ErrPersistence, err)
	}

	if rowsAffected == 0 {
		return s.explainMissedUpdate(ctx, id)
	}

	attrs := []any{slog.String("job_id", id)}
	if update.Status != nil {
		attrs = append(attrs, slog.String("status", string(*update.Status)))
	}
	s.logger.Info("Audit updated", attrs...)

	return nil
}

// explainMissedUpdate tells apart a missing audit from a terminal one
func (s *Storage) explainMissedUpdate(ctx context.Context, id string) error {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM audits WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("%w: failed to read audit status: %w", domain.ErrPersistence, err)
	}

	s.logger.Warn("Rejected update of finished audit",
		slog.String("job_id", id),
		slog.String("status", status),
	)

	return fmt.Errorf("%w: audit %s is %s", domain.ErrInvalidTransition, id, status)
}

// buildUpdateQuery stamps updated_at from the store clock, the same one
// Create uses
func buildUpdateQuery(id string, update domain.JobUpdate, now time.Time) (string, []interface{}, error) {
	sets := []string{}
	args := []interface{}{}
	argIdx := 1

	if update.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*update.Status))
		argIdx++
	}

	if update.DesktopScreenshot != nil {
		sets = append(sets, fmt.Sprintf("desktop_screenshot = $%d", argIdx))
		args = append(args, *update.DesktopScreenshot)
		argIdx++
	}

	if update.MobileScreenshot != nil {
		sets = append(sets, fmt.Sprintf("mobile_screenshot = $%d", argIdx))
		args = append(args, *update.MobileScreenshot)
		argIdx++
	}

	if update.Findings != nil {
		findingsJSON, err := json.Marshal(update.Findings)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal findings: %w", err)
		}
		sets = append(sets, fmt.Sprintf("findings = $%d", argIdx))
		args = append(args, findingsJSON)
		argIdx++
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", argIdx))
	args = append(args, now)
	argIdx++

	query := fmt.Sprintf("UPDATE audits SET %s WHERE id = $%d", strings.Join(sets, ", "), argIdx)
	args = append(args, id)
	argIdx++

	if update.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(domain.StatusPending))
	}

	return query, args, nil
}

// ListRecent lists audits, most recently updated first
func (s *Storage) ListRecent(ctx context.Context, filter domain.RecentFilter) ([]domain.Job, error) {
	query := `
        SELECT ` + auditColumns + `
        FROM audits
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (updated_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.UpdatedAt.UTC(), filter.Cursor.ID)
		argIdx += 2
	}

	// Order by updated_at DESC, id DESC for consistent pagination
	query += " ORDER BY updated_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.Limit)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: failed to list audits: %w", domain.ErrPersistence, err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, nil
}
