package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestHealthz(t *testing.T) {
	start := handlerNow
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody[map[string]any](t, rr)
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.2.0" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name   string
		repo   repositories.HealthRepository
		status int
	}{
		{"no probes", nil, http.StatusOK},
		{"healthy", &stubHealthRepository{report: domain.HealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.HealthCheck{"database": {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond}},
		}}, http.StatusOK},
		{"degraded", &stubHealthRepository{report: domain.HealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.HealthCheck{"redis": {Status: domain.HealthStatusDegraded, Detail: "connection refused"}},
		}}, http.StatusServiceUnavailable},
		{"collect error", &stubHealthRepository{err: errors.New("boom")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthRepository(tc.repo))
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestReadyzReportsChecks(t *testing.T) {
	repo := &stubHealthRepository{report: domain.HealthReport{
		Status:      domain.HealthStatusDegraded,
		GeneratedAt: handlerNow,
		Checks: map[string]domain.HealthCheck{
			"database": {Status: domain.HealthStatusOK, Latency: 4 * time.Millisecond},
			"redis":    {Status: domain.HealthStatusDegraded, Detail: "connection refused"},
		},
	}}
	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthRepository(repo)).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	body := decodeBody[struct {
		Status string                    `json:"status"`
		Checks map[string]readinessCheck `json:"checks"`
	}](t, rr)
	if body.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", body.Status)
	}
	if body.Checks["database"].LatencyMS != 4 || body.Checks["redis"].Detail != "connection refused" {
		t.Fatalf("unexpected checks %+v", body.Checks)
	}
}
