// Package findings turns a page snapshot into structured audit findings.
package findings

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// TextGenerator is the inference backend
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Config tunes the inference call
type Config struct {
	MaxOutputTokens int
	Temperature     float64
	Timeout         time.Duration
}

// Generator produces findings. It never fails: every error path ends in
// DefaultFindings.
type Generator struct {
	client TextGenerator
	cfg    Config
	logger *slog.Logger
}

// NewGenerator creates a Generator. A nil client makes every call return
// the default findings.
func NewGenerator(client TextGenerator, cfg Config, logger *slog.Logger) *Generator {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

func (g *Generator) Analyze(ctx context.Context, url string, snapshot domain.Snapshot) domain.Findings {
	if g.client == nil {
		g.logger.Warn("No inference client configured, using default findings", slog.String("url", url))
		return DefaultFindings()
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := g.client.Generate(ctx, BuildPrompt(url, snapshot), g.cfg.MaxOutputTokens, g.cfg.Temperature)
	if err != nil {
		g.logger.Warn("Inference failed, using default findings",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return DefaultFindings()
	}

	findings, err := Parse(text)
	if err != nil {
		g.logger.Warn("Unusable inference response, using default findings",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return DefaultFindings()
	}

	g.logger.Info("Findings generated",
		slog.String("url", url),
		slog.Int("issues", len(findings.Issues)),
		slog.Duration("duration", time.Since(start)),
	)

	return findings
}
