package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed means the broker stopped delivering to this consumer
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// MessageSource is the queue side the worker consumes from
type MessageSource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// JobLoader reads the authoritative job record
type JobLoader interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
}

// Runner executes the audit pipeline for one job
type Runner interface {
	Run(ctx context.Context, jobID, url string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        MessageSource
	Jobs          JobLoader
	Runner        Runner
	WorkerID      string
	QueueName     string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
}

// Worker consumes audit messages and runs them on a bounded pool
type Worker struct {
	logger            *slog.Logger
	source            MessageSource
	jobs              JobLoader
	runner            Runner
	workerID          string
	rabbitMQQueueName string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	jobsChan          chan *domain.JobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 3 * time.Minute
	}

	return &Worker{
		logger:            cfg.Logger,
		source:            cfg.Source,
		jobs:              cfg.Jobs,
		runner:            cfg.Runner,
		workerID:          cfg.WorkerID,
		rabbitMQQueueName: cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        jobTimeout,
		jobsChan:          make(chan *domain.JobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes and processes audits until ctx is canceled. It returns an
// error if the delivery channel closes first.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	dispatchErr := make(chan error, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		dispatchErr <- w.startMessageDispatcher(ctx, deliveries)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
		return nil
	case err := <-dispatchErr:
		if err != nil {
			return fmt.Errorf("message dispatcher stopped: %w", err)
		}
		return nil
	}
}

// Stop waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
