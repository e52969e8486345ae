package dto

import (
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

type CreateAuditRequest struct {
	URL string `json:"url" binding:"required"`
}

type CreateAuditResponse struct {
	ID     string `json:"id"`
	Reused bool   `json:"reused"`
	Status string `json:"status"`
}

type ListAuditsRequest struct {
	Limit  int    `form:"limit"`
	Cursor string `form:"cursor"`
}

type ListAuditsResponse struct {
	Audits     []AuditSummaryDTO `json:"audits"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type AuditDTO struct {
	ID                string           `json:"id"`
	URL               string           `json:"url"`
	Status            string           `json:"status"`
	DesktopScreenshot *string          `json:"desktop_screenshot,omitempty"`
	MobileScreenshot  *string          `json:"mobile_screenshot,omitempty"`
	Findings          *domain.Findings `json:"findings,omitempty"`
	CreatedAt         string           `json:"created_at"`
	UpdatedAt         string           `json:"updated_at"`
}

type AuditSummaryDTO struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	Score      *int   `json:"score,omitempty"`
	IssueCount int    `json:"issue_count"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// NewAuditDTO renders a job for the API. Failed jobs expose only their
// status, never partial artifacts.
func NewAuditDTO(job *domain.Job) AuditDTO {
	out := AuditDTO{
		ID:        job.ID,
		URL:       job.URL,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.Status == domain.StatusCompleted {
		out.DesktopScreenshot = job.DesktopScreenshot
		out.MobileScreenshot = job.MobileScreenshot
		out.Findings = job.Findings
	}

	return out
}

func NewAuditSummaryDTO(job *domain.Job) AuditSummaryDTO {
	out := AuditSummaryDTO{
		ID:        job.ID,
		URL:       job.URL,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	if job.Findings != nil {
		out.Score = job.Findings.Score
		out.IssueCount = len(job.Findings.Issues)
	}

	return out
}
