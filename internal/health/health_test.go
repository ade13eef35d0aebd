package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewFuncChecker("postgres", ok))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Fatalf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Fatalf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 {
		t.Fatalf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewFuncChecker("postgres", func(context.Context) error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected status unhealthy, got %s", response.Status)
	}
	if response.Checks["postgres"].Message != "connection refused" {
		t.Fatalf("unexpected check message %q", response.Checks["postgres"].Message)
	}
}

func TestOptionalCheckDegrades(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("postgres", NewFuncChecker("postgres", ok))
	handler.RegisterOptional("mongo", NewFuncChecker("mongo", func(context.Context) error {
		return errors.New("no reachable servers")
	}))

	status, checks := handler.Run(context.Background())
	if status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status)
	}
	if checks["mongo"].Status != StatusUnhealthy {
		t.Fatalf("check itself must stay unhealthy, got %s", checks["mongo"].Status)
	}

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("optional failure must not fail readiness, got %d", w.Code)
	}
}

func TestCheckTimeout(t *testing.T) {
	handler := NewHandler("dev")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("redis", NewFuncChecker("redis", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	status, _ := handler.Run(context.Background())
	if status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("check was not bounded by timeout: %s", elapsed)
	}
}

func TestProbeRoutes(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("redis", NewFuncChecker("redis", func(context.Context) error {
		return errors.New("down")
	}))
	mux := http.NewServeMux()
	handler.Register(mux)

	tests := []struct {
		path string
		want int
		body string
	}{
		{path: "/livez", want: http.StatusOK, body: "ok"},
		{path: "/readyz", want: http.StatusServiceUnavailable, body: "not ready"},
		{path: "/healthz", want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.path, tt.want, w.Code)
		}
		if tt.body != "" && w.Body.String() != tt.body {
			t.Fatalf("%s: expected body %q, got %q", tt.path, tt.body, w.Body.String())
		}
	}
}
