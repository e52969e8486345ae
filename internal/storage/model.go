package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// auditRow mirrors the audits table
type auditRow struct {
	ID                string         `db:"id"`
	URL               string         `db:"url"`
	Status            string         `db:"status"`
	DesktopScreenshot sql.NullString `db:"desktop_screenshot"`
	MobileScreenshot  sql.NullString `db:"mobile_screenshot"`
	Findings          []byte         `db:"findings"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

const auditColumns = `id, url, status, desktop_screenshot, mobile_screenshot, findings, created_at, updated_at`

func (r *auditRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:        r.ID,
		URL:       r.URL,
		Status:    domain.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.DesktopScreenshot.Valid {
		ref := r.DesktopScreenshot.String
		job.DesktopScreenshot = &ref
	}
	if r.MobileScreenshot.Valid {
		ref := r.MobileScreenshot.String
		job.MobileScreenshot = &ref
	}

	if len(r.Findings) > 0 {
		var findings domain.Findings
		if err := json.Unmarshal(r.Findings, &findings); err != nil {
			return nil, fmt.Errorf("failed to decode findings of audit %s: %w", r.ID, err)
		}
		job.Findings = &findings
	}

	return job, nil
}
