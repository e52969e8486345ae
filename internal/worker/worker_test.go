package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/cuongbtq/site-audit/internal/storage"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	prefetch   int
	acks       []uint64
	nacks      map[uint64]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		deliveries: make(chan amqp.Delivery, 16),
		nacks:      make(map[uint64]bool),
	}
}

func (s *fakeSource) Qos(prefetchCount int) error {
	s.prefetch = prefetchCount
	return nil
}

func (s *fakeSource) Consume(string) (<-chan amqp.Delivery, error) {
	return s.deliveries, nil
}

func (s *fakeSource) Ack(tag uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, tag)
	return nil
}

func (s *fakeSource) Nack(tag uint64, requeue bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacks[tag] = requeue
	return nil
}

func (s *fakeSource) settled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acks) + len(s.nacks)
}

type fakeRunner struct {
	store *storage.MemoryStore
	fail  map[string]bool
}

func (r *fakeRunner) Run(ctx context.Context, jobID, url string) error {
	status := domain.StatusFailed
	if r.fail[url] {
		_ = r.store.Update(ctx, jobID, domain.JobUpdate{Status: &status})
		return domain.NewCaptureError(domain.CaptureNavigationFailed, "navigate", errors.New("dns"))
	}
	status = domain.StatusCompleted
	ref := "ref"
	return r.store.Update(ctx, jobID, domain.JobUpdate{
		Status: &status, DesktopScreenshot: &ref, MobileScreenshot: &ref,
		Findings: &domain.Findings{Summary: "ok", Issues: []domain.Issue{}},
	})
}

type flakyLoader struct{}

func (flakyLoader) GetByID(context.Context, string) (*domain.Job, error) {
	return nil, fmt.Errorf("%w: connection reset", domain.ErrPersistence)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func delivery(tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{DeliveryTag: tag, Body: []byte(body)}
}

func TestWorker_ProcessesDeliveries(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	source := newFakeSource()
	runner := &fakeRunner{store: store, fail: map[string]bool{"https://broken.example": true}}

	ok, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)
	broken, err := store.Create(ctx, "https://broken.example")
	require.NoError(t, err)

	w := NewWorker(&Config{
		Logger:      discardLogger(),
		Source:      source,
		Jobs:        store,
		Runner:      runner,
		WorkerID:    "test-worker",
		Concurrency: 2,
		JobTimeout:  time.Second,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Start(runCtx) }()

	source.deliveries <- delivery(1, fmt.Sprintf(`{"job_id":%q,"url":"https://example.com"}`, ok.ID))
	source.deliveries <- delivery(2, fmt.Sprintf(`{"job_id":%q,"url":"https://broken.example"}`, broken.ID))
	source.deliveries <- delivery(3, `not json`)
	source.deliveries <- delivery(4, `{"job_id":"not-a-uuid","url":"https://example.com"}`)
	// redelivery of an already completed job
	source.deliveries <- delivery(5, fmt.Sprintf(`{"job_id":%q,"url":"https://example.com"}`, ok.ID))

	assert.Eventually(t, func() bool { return source.settled() == 5 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	w.Stop()

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.ElementsMatch(t, []uint64{1, 5}, source.acks)
	assert.Equal(t, map[uint64]bool{2: false, 3: false, 4: false}, source.nacks)
	assert.Equal(t, 2, source.prefetch)

	got, err := store.GetByID(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestWorker_StartReturnsWhenDeliveriesClose(t *testing.T) {
	source := newFakeSource()
	w := NewWorker(&Config{
		Logger:      discardLogger(),
		Source:      source,
		Jobs:        storage.NewMemoryStore(),
		Runner:      &fakeRunner{store: storage.NewMemoryStore()},
		WorkerID:    "test-worker",
		Concurrency: 2,
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	close(source.deliveries)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeliveriesClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the delivery channel closed")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not drain the worker pool")
	}
}

func TestProcessJob_TransientLoadErrorRequeues(t *testing.T) {
	w := NewWorker(&Config{Logger: discardLogger(), Jobs: flakyLoader{}, Source: newFakeSource()})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: "id", URL: "https://example.com"})
	require.Error(t, err)
	assert.True(t, shouldRequeueJob(err))
}

func TestProcessJob_MissingJobIsDropped(t *testing.T) {
	w := NewWorker(&Config{Logger: discardLogger(), Jobs: storage.NewMemoryStore(), Source: newFakeSource()})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: "id", URL: "https://example.com"})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.False(t, shouldRequeueJob(err))
}

func TestShouldRequeueJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable", domain.NewRetryableError(errors.New("db")), true},
		{"pipeline failure", fmt.Errorf("%w: boom", domain.ErrPipelineFailed), false},
		{"pipeline failure wrapping retryable", fmt.Errorf("%w: %w", domain.ErrPipelineFailed, domain.NewRetryableError(errors.New("x"))), false},
		{"invalid payload", domain.ErrInvalidPayload, false},
		{"unknown", errors.New("?"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeueJob(tt.err))
		})
	}
}

func TestParseMessage(t *testing.T) {
	msg, err := parseMessage([]byte(`{"job_id":"6f1c2a5e-7a38-4d1e-9a33-4d6f0c8b1a20","url":" https://example.com "}`))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", msg.URL)

	_, err = parseMessage([]byte(`{"job_id":"6f1c2a5e-7a38-4d1e-9a33-4d6f0c8b1a20"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
