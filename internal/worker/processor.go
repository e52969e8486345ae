package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// processJob loads the job behind msg and runs the audit pipeline for it
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	job, err := w.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return fmt.Errorf("audit %s: %w", msg.JobID, err)
		}
		// nothing ran yet, so the delivery may be retried
		return domain.NewRetryableError(fmt.Errorf("failed to load audit: %w", err))
	}

	if job.Status != domain.StatusPending {
		w.logger.Info("Audit already finished, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return fmt.Errorf("audit %s is %s: %w", job.ID, job.Status, domain.ErrJobAlreadyFinished)
	}

	if msg.URL != job.URL {
		w.logger.Warn("Message url differs from stored url, using stored",
			slog.String("job_id", job.ID),
			slog.String("message_url", msg.URL),
			slog.String("stored_url", job.URL),
		)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	if err := w.runner.Run(jobCtx, job.ID, job.URL); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPipelineFailed, err)
	}

	w.logger.Info("Audit processed",
		slog.String("job_id", job.ID),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}
