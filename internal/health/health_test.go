package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/callsight/callsight/internal/health"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyzAggregatesCheckers(t *testing.T) {
	t.Parallel()

	t.Run("all pass", func(t *testing.T) {
		t.Parallel()
		h := health.New(
			health.Checker{Name: "database", Check: func(ctx context.Context) error { return nil }},
			health.Checker{Name: "redis", Check: func(ctx context.Context) error { return nil }},
		)
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decode(t, rec)
		checks := body["checks"].(map[string]any)
		if checks["database"] != "ok" || checks["redis"] != "ok" {
			t.Fatalf("checks = %v", checks)
		}
	})

	t.Run("one fails", func(t *testing.T) {
		t.Parallel()
		h := health.New(
			health.Checker{Name: "database", Check: func(ctx context.Context) error { return nil }},
			health.Checker{Name: "redis", Check: func(ctx context.Context) error { return errors.New("conn refused") }},
		)
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decode(t, rec)
		if body["status"] != "fail" {
			t.Fatalf("status field = %v", body["status"])
		}
		checks := body["checks"].(map[string]any)
		if checks["database"] != "ok" {
			t.Fatalf("database check = %v", checks["database"])
		}
	})
}
