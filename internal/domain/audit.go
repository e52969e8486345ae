package domain

import (
	"fmt"
	"time"
)

// Job is the persisted record of one audit request.
type Job struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	Status            Status    `json:"status"`
	DesktopScreenshot *string   `json:"desktop_screenshot,omitempty"`
	MobileScreenshot  *string   `json:"mobile_screenshot,omitempty"`
	Findings          *Findings `json:"findings,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Findings is the structured result of the analysis step.
type Findings struct {
	Summary string  `json:"summary"`
	Score   *int    `json:"score,omitempty"`
	Issues  []Issue `json:"issues"`
}

// Issue is a single categorized finding.
type Issue struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Recommendation *string  `json:"recommendation,omitempty"`
}

// JobUpdate is a partial update of a job. Nil fields are left untouched.
type JobUpdate struct {
	Status            *Status
	DesktopScreenshot *string
	MobileScreenshot  *string
	Findings          *Findings
}

// Validate enforces the state machine rules that can be checked without
// looking at the stored record.
func (u JobUpdate) Validate() error {
	if u.Status == nil {
		if u.Findings != nil {
			return fmt.Errorf("%w: findings can only be set together with the completed status", ErrInvalidTransition)
		}
		return nil
	}

	switch *u.Status {
	case StatusCompleted:
		if u.Findings == nil {
			return fmt.Errorf("%w: completed update requires findings", ErrInvalidTransition)
		}
		if u.DesktopScreenshot == nil || u.MobileScreenshot == nil {
			return fmt.Errorf("%w: completed update requires both screenshot references", ErrInvalidTransition)
		}
	case StatusFailed:
		if u.Findings != nil {
			return fmt.Errorf("%w: failed update must not carry findings", ErrInvalidTransition)
		}
	default:
		return ErrInvalidTransition
	}

	return nil
}

// Apply merges the update into job. It does not touch UpdatedAt.
func (u JobUpdate) Apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.DesktopScreenshot != nil {
		ref := *u.DesktopScreenshot
		job.DesktopScreenshot = &ref
	}
	if u.MobileScreenshot != nil {
		ref := *u.MobileScreenshot
		job.MobileScreenshot = &ref
	}
	if u.Findings != nil {
		f := *u.Findings
		job.Findings = &f
	}
}

// Cursor marks a position in the recent audits listing.
type Cursor struct {
	UpdatedAt time.Time
	ID        string
}

// RecentFilter selects a page of the recent audits listing.
type RecentFilter struct {
	Limit  int
	Cursor *Cursor
}
