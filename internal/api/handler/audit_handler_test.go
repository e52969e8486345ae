package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/site-audit/internal/api/dto"
	"github.com/cuongbtq/site-audit/internal/audit"
	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAudits struct {
	submitResult audit.SubmitResult
	submitErr    error
	job          *domain.Job
	getErr       error
	jobs         []domain.Job
	recentErr    error
	lastFilter   domain.RecentFilter
}

func (s *stubAudits) Submit(ctx context.Context, rawURL string) (audit.SubmitResult, error) {
	return s.submitResult, s.submitErr
}

func (s *stubAudits) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.job, s.getErr
}

func (s *stubAudits) Recent(ctx context.Context, filter domain.RecentFilter) ([]domain.Job, error) {
	s.lastFilter = filter
	return s.jobs, s.recentErr
}

func newTestEngine(audits AuditService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	deps := &Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Audits: audits,
	}
	h := NewAuditHandler(deps)

	r := gin.New()
	r.POST("/audits", h.CreateAudit)
	r.GET("/audits", h.ListRecentAudits)
	r.GET("/audits/:audit_id", h.GetAudit)
	return r
}

func TestCreateAudit(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		stub       *stubAudits
		wantStatus int
		wantReused bool
	}{
		{
			name:       "new audit",
			body:       `{"url":"https://example.com"}`,
			stub:       &stubAudits{submitResult: audit.SubmitResult{ID: "a", Status: domain.StatusPending}},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "reused audit",
			body:       `{"url":"https://example.com"}`,
			stub:       &stubAudits{submitResult: audit.SubmitResult{ID: "a", Status: domain.StatusCompleted, Reused: true}},
			wantStatus: http.StatusOK,
			wantReused: true,
		},
		{
			name:       "missing url",
			body:       `{}`,
			stub:       &stubAudits{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid url",
			body:       `{"url":"ftp://example.com"}`,
			stub:       &stubAudits{submitErr: domain.ErrInvalidInput},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "store unavailable",
			body:       `{"url":"https://example.com"}`,
			stub:       &stubAudits{submitErr: domain.ErrPersistence},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "schedule failed",
			body:       `{"url":"https://example.com"}`,
			stub:       &stubAudits{submitErr: domain.ErrScheduleFailed},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected error",
			body:       `{"url":"https://example.com"}`,
			stub:       &stubAudits{submitErr: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(tt.stub)

			req := httptest.NewRequest(http.MethodPost, "/audits", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if w.Code < 300 {
				var resp dto.CreateAuditResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "a", resp.ID)
				assert.Equal(t, tt.wantReused, resp.Reused)
			}
		})
	}
}

func TestGetAudit(t *testing.T) {
	id := "6f1c2a5e-7a38-4d1e-9a33-4d6f0c8b1a20"
	desktop := "https://cdn.test/d.png"
	score := 64
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		path       string
		stub       *stubAudits
		wantStatus int
		check      func(t *testing.T, body dto.AuditDTO)
	}{
		{
			name: "completed audit",
			path: "/audits/" + id,
			stub: &stubAudits{job: &domain.Job{
				ID: id, URL: "https://example.com", Status: domain.StatusCompleted,
				DesktopScreenshot: &desktop, MobileScreenshot: &desktop,
				Findings:  &domain.Findings{Summary: "ok", Score: &score, Issues: []domain.Issue{}},
				CreatedAt: now, UpdatedAt: now,
			}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body dto.AuditDTO) {
				assert.Equal(t, "completed", body.Status)
				require.NotNil(t, body.Findings)
				assert.Equal(t, 64, *body.Findings.Score)
				assert.Equal(t, "2026-04-02T09:00:00Z", body.UpdatedAt)
			},
		},
		{
			name: "failed audit hides partial artifacts",
			path: "/audits/" + id,
			stub: &stubAudits{job: &domain.Job{
				ID: id, URL: "https://example.com", Status: domain.StatusFailed,
				DesktopScreenshot: &desktop, CreatedAt: now, UpdatedAt: now,
			}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body dto.AuditDTO) {
				assert.Equal(t, "failed", body.Status)
				assert.Nil(t, body.DesktopScreenshot)
				assert.Nil(t, body.Findings)
			},
		},
		{
			name:       "malformed id",
			path:       "/audits/not-a-uuid",
			stub:       &stubAudits{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not found",
			path:       "/audits/" + id,
			stub:       &stubAudits{getErr: domain.ErrJobNotFound},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(tt.stub)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.check != nil {
				var body dto.AuditDTO
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				tt.check(t, body)
			}
		})
	}
}

func TestListRecentAudits_Limits(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
	}{
		{name: "default", query: "", wantLimit: defaultListLimit + 1},
		{name: "explicit", query: "?limit=5", wantLimit: 6},
		{name: "clamped high", query: "?limit=500", wantLimit: maxListLimit + 1},
		{name: "clamped low", query: "?limit=-3", wantLimit: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAudits{}
			r := newTestEngine(stub)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audits"+tt.query, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantLimit, stub.lastFilter.Limit)
			assert.JSONEq(t, `{"audits":[]}`, w.Body.String())
		})
	}
}

func TestListRecentAudits_NextCursor(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	score := 90
	stub := &stubAudits{jobs: []domain.Job{
		{ID: "c", URL: "https://c.com", Status: domain.StatusCompleted, UpdatedAt: now,
			Findings: &domain.Findings{Score: &score, Issues: []domain.Issue{{Title: "x"}}}},
		{ID: "b", URL: "https://b.com", Status: domain.StatusPending, UpdatedAt: now.Add(-time.Minute)},
		{ID: "a", URL: "https://a.com", Status: domain.StatusFailed, UpdatedAt: now.Add(-2 * time.Minute)},
	}}
	r := newTestEngine(stub)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audits?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListAuditsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Audits, 2)
	assert.Equal(t, 1, resp.Audits[0].IssueCount)
	assert.Equal(t, 90, *resp.Audits[0].Score)
	require.NotEmpty(t, resp.NextCursor)

	cursor, err := DecodeAuditCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "b", cursor.ID)
	assert.True(t, cursor.UpdatedAt.Equal(now.Add(-time.Minute)))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audits?cursor="+resp.NextCursor, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, stub.lastFilter.Cursor)
	assert.Equal(t, "b", stub.lastFilter.Cursor.ID)
}

func TestListRecentAudits_BadInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "non numeric limit", query: "?limit=ten"},
		{name: "garbage cursor", query: "?cursor=!!!"},
		{name: "cursor without id", query: "?cursor=" + EncodeAuditCursor(&domain.Cursor{UpdatedAt: time.Now()})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(&stubAudits{})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audits"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
