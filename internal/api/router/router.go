package router

import (
	"github.com/cuongbtq/site-audit/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// Options tunes the HTTP surface
type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	// ArtifactsDir, when set, is served under /artifacts
	ArtifactsDir string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))
	r.Use(BodyLimitMiddleware(opts.MaxBodyBytes))

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	if opts.ArtifactsDir != "" {
		r.Static("/artifacts", opts.ArtifactsDir)
	}

	auditHandler := handler.NewAuditHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		audits := v1.Group("/audits")
		{
			// POST /api/v1/audits - Submit a URL for auditing
			audits.POST("", auditHandler.CreateAudit)

			// GET /api/v1/audits - List recent audits
			audits.GET("", auditHandler.ListRecentAudits)
			audits.GET("/recent", auditHandler.ListRecentAudits)

			// GET /api/v1/audits/:audit_id - Get audit details
			audits.GET("/:audit_id", auditHandler.GetAudit)
		}
	}

	return r
}
