package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/site-audit/internal/audit"
	"github.com/cuongbtq/site-audit/internal/domain"
)

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

// AuditService is the part of the orchestrator the API calls
type AuditService interface {
	Submit(ctx context.Context, rawURL string) (audit.SubmitResult, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	Recent(ctx context.Context, filter domain.RecentFilter) ([]domain.Job, error)
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Audits       AuditService
	ServiceName  string
	HealthChecks map[string]HealthCheck
	StartedAt    time.Time
}

// AuditHandler handles audit-related HTTP requests
type AuditHandler struct {
	logger *slog.Logger
	audits AuditService
}

// NewAuditHandler creates a new AuditHandler instance
func NewAuditHandler(deps *Dependencies) *AuditHandler {
	return &AuditHandler{
		logger: deps.Logger,
		audits: deps.Audits,
	}
}
