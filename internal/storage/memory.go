package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps audits in process memory. It follows the same
// contract as Storage and backs the one-shot CLI run and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

// WithClock replaces the time source, used by tests that move time forward
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Create(_ context.Context, url string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.tick()
	job := &domain.Job{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job

	return cloneJob(job), nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return cloneJob(job), nil
}

func (m *MemoryStore) FindRecent(_ context.Context, url string, since time.Time) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *domain.Job
	for _, job := range m.jobs {
		if job.URL != url || job.UpdatedAt.Before(since) {
			continue
		}
		if best == nil || job.UpdatedAt.After(best.UpdatedAt) {
			best = job
		}
	}

	if best == nil {
		return nil, nil
	}

	return cloneJob(best), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, update domain.JobUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}

	if update.Status != nil && job.Status != domain.StatusPending {
		return fmt.Errorf("%w: audit %s is %s", domain.ErrInvalidTransition, id, job.Status)
	}

	update.Apply(job)
	job.UpdatedAt = m.tick()

	return nil
}

func (m *MemoryStore) ListRecent(_ context.Context, filter domain.RecentFilter) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		all = append(all, job)
	}

	sort.Slice(all, func(i, j int) bool {
		return after(all[i], all[j].UpdatedAt, all[j].ID)
	})

	jobs := make([]domain.Job, 0, filter.Limit)
	for _, job := range all {
		if filter.Cursor != nil && !after(&domain.Job{UpdatedAt: filter.Cursor.UpdatedAt, ID: filter.Cursor.ID}, job.UpdatedAt, job.ID) {
			continue
		}
		if len(jobs) >= filter.Limit {
			break
		}
		jobs = append(jobs, *cloneJob(job))
	}

	return jobs, nil
}

// tick returns a timestamp strictly after every one already handed out, so
// ordering by updated_at stays total within a process.
func (m *MemoryStore) tick() time.Time {
	now := m.now().UTC()
	for _, job := range m.jobs {
		if !now.After(job.UpdatedAt) {
			now = job.UpdatedAt.Add(time.Microsecond)
		}
	}
	return now
}

// after reports whether job sorts strictly before (updatedAt, id) in
// descending listing order.
func after(job *domain.Job, updatedAt time.Time, id string) bool {
	if !job.UpdatedAt.Equal(updatedAt) {
		return job.UpdatedAt.After(updatedAt)
	}
	return job.ID > id
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	if job.DesktopScreenshot != nil {
		ref := *job.DesktopScreenshot
		c.DesktopScreenshot = &ref
	}
	if job.MobileScreenshot != nil {
		ref := *job.MobileScreenshot
		c.MobileScreenshot = &ref
	}
	if job.Findings != nil {
		f := *job.Findings
		f.Issues = append([]domain.Issue(nil), job.Findings.Issues...)
		c.Findings = &f
	}
	return &c
}
