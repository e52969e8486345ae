// Package audit owns the lifecycle of audit jobs: dedup, scheduling and the
// capture, analysis and upload run.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/site-audit/internal/blob"
	"github.com/cuongbtq/site-audit/internal/capture"
	"github.com/cuongbtq/site-audit/internal/domain"
)

// Store persists audit jobs
type Store interface {
	Create(ctx context.Context, url string) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	FindRecent(ctx context.Context, url string, since time.Time) (*domain.Job, error)
	Update(ctx context.Context, id string, update domain.JobUpdate) error
	ListRecent(ctx context.Context, filter domain.RecentFilter) ([]domain.Job, error)
}

// BlobStore uploads artifacts and returns their public reference
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Capturer renders a page and takes its screenshots
type Capturer interface {
	Capture(ctx context.Context, url string) (*capture.Result, error)
}

// Analyzer produces findings. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, url string, snapshot domain.Snapshot) domain.Findings
}

// Scheduler hands a created job to the pipeline without waiting for it
type Scheduler interface {
	Schedule(ctx context.Context, jobID, url string) error
}

const (
	defaultFreshnessWindow = time.Hour
	defaultUploadTimeout   = 30 * time.Second
	finalizeTimeout        = 10 * time.Second
	screenshotContentType  = "image/png"
)

// Config wires the orchestrator
type Config struct {
	Store           Store
	Blobs           BlobStore
	Capturer        Capturer
	Analyzer        Analyzer
	Scheduler       Scheduler
	Logger          *slog.Logger
	FreshnessWindow time.Duration
	ReuseFailed     bool
	UploadTimeout   time.Duration
}

// Orchestrator implements Submit and Run
type Orchestrator struct {
	store           Store
	blobs           BlobStore
	capturer        Capturer
	analyzer        Analyzer
	scheduler       Scheduler
	logger          *slog.Logger
	freshnessWindow time.Duration
	reuseFailed     bool
	uploadTimeout   time.Duration
	now             func() time.Time
}

// New creates an Orchestrator
func New(cfg *Config) *Orchestrator {
	o := &Orchestrator{
		store:           cfg.Store,
		blobs:           cfg.Blobs,
		capturer:        cfg.Capturer,
		analyzer:        cfg.Analyzer,
		scheduler:       cfg.Scheduler,
		logger:          cfg.Logger,
		freshnessWindow: cfg.FreshnessWindow,
		reuseFailed:     cfg.ReuseFailed,
		uploadTimeout:   cfg.UploadTimeout,
		now:             time.Now,
	}
	if o.freshnessWindow <= 0 {
		o.freshnessWindow = defaultFreshnessWindow
	}
	if o.uploadTimeout <= 0 {
		o.uploadTimeout = defaultUploadTimeout
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithClock replaces the time source used for the freshness window
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// UseScheduler sets the scheduler after construction. Inline dispatch needs
// the orchestrator before it can be built.
func (o *Orchestrator) UseScheduler(s Scheduler) {
	o.scheduler = s
}

// SubmitResult is the outcome of Submit
type SubmitResult struct {
	ID     string
	Status domain.Status
	Reused bool
}

// Submit returns a fresh enough existing job for rawURL or creates and
// schedules a new one. It never waits for the pipeline.
func (o *Orchestrator) Submit(ctx context.Context, rawURL string) (SubmitResult, error) {
	url, err := NormalizeURL(rawURL)
	if err != nil {
		return SubmitResult{}, err
	}

	since := o.now().Add(-o.freshnessWindow)
	existing, err := o.store.FindRecent(ctx, url, since)
	if err != nil {
		return SubmitResult{}, persistenceErr(err)
	}

	if existing != nil && (o.reuseFailed || existing.Status != domain.StatusFailed) {
		o.logger.Info("Reusing recent audit",
			slog.String("job_id", existing.ID),
			slog.String("url", url),
			slog.String("status", string(existing.Status)),
		)
		return SubmitResult{ID: existing.ID, Status: existing.Status, Reused: true}, nil
	}

	job, err := o.store.Create(ctx, url)
	if err != nil {
		return SubmitResult{}, persistenceErr(err)
	}

	if o.scheduler == nil {
		err = errors.New("no scheduler configured")
	} else {
		err = o.scheduler.Schedule(ctx, job.ID, url)
	}
	if err != nil {
		o.logger.Error("Failed to schedule audit",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		o.markFailed(ctx, job.ID)
		return SubmitResult{}, fmt.Errorf("%w: %w", domain.ErrScheduleFailed, err)
	}

	o.logger.Info("Audit submitted",
		slog.String("job_id", job.ID),
		slog.String("url", url),
	)

	return SubmitResult{ID: job.ID, Status: job.Status, Reused: false}, nil
}

// Get returns one job
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, persistenceErr(err)
	}
	return job, nil
}

// Recent returns a page of the most recently updated jobs
func (o *Orchestrator) Recent(ctx context.Context, filter domain.RecentFilter) ([]domain.Job, error) {
	jobs, err := o.store.ListRecent(ctx, filter)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return jobs, nil
}

// Run executes the pipeline for a pending job and moves it to completed or
// failed. The returned error describes why the job failed.
func (o *Orchestrator) Run(ctx context.Context, jobID, url string) (err error) {
	start := time.Now()
	logger := o.logger.With(slog.String("job_id", jobID), slog.String("url", url))

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewCaptureError(domain.CaptureBrowserCrash, "run", fmt.Errorf("panic: %v", r))
			logger.Error("Audit run panicked", slog.Any("panic", r))
			o.markFailed(ctx, jobID)
		}
	}()

	logger.Info("Audit run started")

	result, err := o.capturer.Capture(ctx, url)
	if err != nil {
		var captureErr *domain.CaptureError
		if !errors.As(err, &captureErr) {
			err = domain.NewCaptureError(domain.CaptureBrowserCrash, "capture", err)
		}
		logger.Warn("Capture failed", slog.String("error", err.Error()))
		o.markFailed(ctx, jobID)
		return err
	}

	findings := o.analyzer.Analyze(ctx, url, result.Snapshot)

	now := o.now()
	desktopRef, err := o.upload(ctx, domain.ArtifactDesktop, url, result.Desktop, now)
	if err != nil {
		logger.Warn("Desktop upload failed", slog.String("error", err.Error()))
		o.markFailed(ctx, jobID)
		return err
	}

	mobileRef, err := o.upload(ctx, domain.ArtifactMobile, url, result.Mobile, now)
	if err != nil {
		logger.Warn("Mobile upload failed", slog.String("error", err.Error()))
		o.markFailed(ctx, jobID)
		return err
	}

	completed := domain.StatusCompleted
	update := domain.JobUpdate{
		Status:            &completed,
		DesktopScreenshot: &desktopRef,
		MobileScreenshot:  &mobileRef,
		Findings:          &findings,
	}

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := o.store.Update(finalCtx, jobID, update); err != nil {
		logger.Error("Failed to record completed audit", slog.String("error", err.Error()))
		return fmt.Errorf("failed to record completed audit: %w", err)
	}

	logger.Info("Audit completed",
		slog.Int("issues", len(findings.Issues)),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}

func (o *Orchestrator) upload(ctx context.Context, kind, url string, data []byte, now time.Time) (string, error) {
	key, err := blob.Key(kind, url, "png", now)
	if err != nil {
		return "", &domain.UploadError{Key: kind, Err: err}
	}

	uploadCtx, cancel := context.WithTimeout(ctx, o.uploadTimeout)
	defer cancel()

	ref, err := o.blobs.Upload(uploadCtx, key, data, screenshotContentType)
	if err != nil {
		var uploadErr *domain.UploadError
		if errors.As(err, &uploadErr) {
			return "", uploadErr
		}
		return "", &domain.UploadError{Key: key, Err: err}
	}

	return ref, nil
}

// markFailed moves a job to failed. It survives cancellation of ctx so a
// shutdown does not strand the job in pending.
func (o *Orchestrator) markFailed(ctx context.Context, jobID string) {
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	failed := domain.StatusFailed
	if err := o.store.Update(finalCtx, jobID, domain.JobUpdate{Status: &failed}); err != nil {
		o.logger.Error("Failed to mark audit as failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func persistenceErr(err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}
