package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// Publisher sends a message body to the audit queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// QueueScheduler publishes jobs for the worker service
type QueueScheduler struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewQueueScheduler creates a new QueueScheduler
func NewQueueScheduler(publisher Publisher, logger *slog.Logger) *QueueScheduler {
	return &QueueScheduler{publisher: publisher, logger: logger}
}

func (s *QueueScheduler) Schedule(ctx context.Context, jobID, url string) error {
	body, err := json.Marshal(domain.AuditMessage{JobID: jobID, URL: url})
	if err != nil {
		return fmt.Errorf("failed to encode audit message: %w", err)
	}

	if err := s.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish audit message: %w", err)
	}

	s.logger.Debug("Audit message published", slog.String("job_id", jobID))
	return nil
}

// Runner executes one job to completion
type Runner interface {
	Run(ctx context.Context, jobID, url string) error
}

// InlineScheduler runs each job on its own goroutine inside the current
// process. Jobs are detached from the submitting request.
type InlineScheduler struct {
	runner     Runner
	jobTimeout time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

// NewInlineScheduler creates a new InlineScheduler
func NewInlineScheduler(runner Runner, jobTimeout time.Duration, logger *slog.Logger) *InlineScheduler {
	if jobTimeout <= 0 {
		jobTimeout = 3 * time.Minute
	}
	return &InlineScheduler{runner: runner, jobTimeout: jobTimeout, logger: logger}
}

func (s *InlineScheduler) Schedule(_ context.Context, jobID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return fmt.Errorf("scheduler is shutting down")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		if err := s.runner.Run(ctx, jobID, url); err != nil {
			s.logger.Warn("Inline audit failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return nil
}

// Wait stops accepting jobs and blocks until running ones finish or ctx ends
func (s *InlineScheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
