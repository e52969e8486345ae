package storage

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(db, "sqlmock"), logger), mock
}

var auditColumnNames = []string{"id", "url", "status", "desktop_screenshot", "mobile_screenshot", "findings", "created_at", "updated_at"}

func TestStorage_Create(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audits")).
		WithArgs(sqlmock.AnyArg(), "https://example.com", "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := s.Create(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Nil(t, job.Findings)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Create_DriverError(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audits")).
		WillReturnError(errors.New("connection refused"))

	_, err := s.Create(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestStorage_GetByID(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id := "6f1c2a5e-7a38-4d1e-9a33-4d6f0c8b1a20"

	tests := []struct {
		name      string
		setup     func(mock sqlmock.Sqlmock)
		wantErr   error
		checkFunc func(t *testing.T, job *domain.Job)
	}{
		{
			name: "completed audit with findings",
			setup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(auditColumnNames).AddRow(
					id, "https://example.com", "completed",
					"https://cdn.test/desktop/example.com/1.png",
					"https://cdn.test/mobile/example.com/1.png",
					[]byte(`{"summary":"ok","score":82,"issues":[{"title":"t","description":"d","severity":"low","category":"SEO"}]}`),
					now, now,
				)
				mock.ExpectQuery(regexp.QuoteMeta("FROM audits WHERE id = $1")).WithArgs(id).WillReturnRows(rows)
			},
			checkFunc: func(t *testing.T, job *domain.Job) {
				assert.Equal(t, domain.StatusCompleted, job.Status)
				require.NotNil(t, job.DesktopScreenshot)
				assert.Equal(t, "https://cdn.test/desktop/example.com/1.png", *job.DesktopScreenshot)
				require.NotNil(t, job.Findings)
				require.NotNil(t, job.Findings.Score)
				assert.Equal(t, 82, *job.Findings.Score)
				assert.Len(t, job.Findings.Issues, 1)
			},
		},
		{
			name: "pending audit has no findings",
			setup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(auditColumnNames).AddRow(
					id, "https://example.com", "pending", nil, nil, nil, now, now,
				)
				mock.ExpectQuery(regexp.QuoteMeta("FROM audits WHERE id = $1")).WithArgs(id).WillReturnRows(rows)
			},
			checkFunc: func(t *testing.T, job *domain.Job) {
				assert.Equal(t, domain.StatusPending, job.Status)
				assert.Nil(t, job.DesktopScreenshot)
				assert.Nil(t, job.MobileScreenshot)
				assert.Nil(t, job.Findings)
			},
		},
		{
			name: "not found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM audits WHERE id = $1")).WithArgs(id).WillReturnError(sql.ErrNoRows)
			},
			wantErr: domain.ErrJobNotFound,
		},
		{
			name: "driver failure",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("FROM audits WHERE id = $1")).WithArgs(id).WillReturnError(errors.New("broken pipe"))
			},
			wantErr: domain.ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			tt.setup(mock)

			job, err := s.GetByID(context.Background(), id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFunc(t, job)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_FindRecent_NoMatch(t *testing.T) {
	s, mock := newMockStorage(t)
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE url = $1 AND updated_at >= $2")).
		WithArgs("https://example.com", since.UTC()).
		WillReturnError(sql.ErrNoRows)

	job, err := s.FindRecent(context.Background(), "https://example.com", since)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStorage_FindRecent_Match(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(auditColumnNames).AddRow(
		"a", "https://example.com", "pending", nil, nil, nil, now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY updated_at DESC")).WillReturnRows(rows)

	job, err := s.FindRecent(context.Background(), "https://example.com", now.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "a", job.ID)
}

func TestStorage_Update_Completed(t *testing.T) {
	s, mock := newMockStorage(t)
	stamp := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }

	status := domain.StatusCompleted
	desktop := "https://cdn.test/d.png"
	mobile := "https://cdn.test/m.png"
	update := domain.JobUpdate{
		Status:            &status,
		DesktopScreenshot: &desktop,
		MobileScreenshot:  &mobile,
		Findings:          &domain.Findings{Summary: "ok", Issues: []domain.Issue{}},
	}

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE audits SET status = $1, desktop_screenshot = $2, mobile_screenshot = $3, findings = $4, updated_at = $5 WHERE id = $6 AND status = $7",
	)).
		WithArgs("completed", desktop, mobile, sqlmock.AnyArg(), stamp, "job-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Update(context.Background(), "job-1", update)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Update_RejectedOnTerminal(t *testing.T) {
	s, mock := newMockStorage(t)
	status := domain.StatusFailed

	mock.ExpectExec(regexp.QuoteMeta("UPDATE audits SET status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM audits WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := s.Update(context.Background(), "job-1", domain.JobUpdate{Status: &status})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Update_NotFound(t *testing.T) {
	s, mock := newMockStorage(t)
	ref := "https://cdn.test/d.png"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE audits SET desktop_screenshot = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(ref, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM audits")).
		WillReturnError(sql.ErrNoRows)

	err := s.Update(context.Background(), "missing", domain.JobUpdate{DesktopScreenshot: &ref})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_Update_InvalidShapeNeverHitsDB(t *testing.T) {
	s, mock := newMockStorage(t)
	status := domain.StatusCompleted

	err := s.Update(context.Background(), "job-1", domain.JobUpdate{Status: &status})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ListRecent(t *testing.T) {
	now := time.Now().UTC()

	t.Run("first page", func(t *testing.T) {
		s, mock := newMockStorage(t)
		rows := sqlmock.NewRows(auditColumnNames).
			AddRow("b", "https://b.com", "pending", nil, nil, nil, now, now).
			AddRow("a", "https://a.com", "failed", nil, nil, nil, now.Add(-time.Minute), now.Add(-time.Minute))

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY updated_at DESC, id DESC LIMIT $1")).
			WithArgs(3).
			WillReturnRows(rows)

		jobs, err := s.ListRecent(context.Background(), domain.RecentFilter{Limit: 3})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "b", jobs[0].ID)
		assert.Equal(t, domain.StatusFailed, jobs[1].Status)
	})

	t.Run("with cursor", func(t *testing.T) {
		s, mock := newMockStorage(t)
		cursor := &domain.Cursor{UpdatedAt: now, ID: "b"}

		mock.ExpectQuery(regexp.QuoteMeta("AND (updated_at, id) < ($1, $2) ORDER BY updated_at DESC, id DESC LIMIT $3")).
			WithArgs(now, "b", 11).
			WillReturnRows(sqlmock.NewRows(auditColumnNames))

		jobs, err := s.ListRecent(context.Background(), domain.RecentFilter{Limit: 11, Cursor: cursor})
		require.NoError(t, err)
		assert.Empty(t, jobs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
