package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dennisdiepolder/monti/supportdesk/internal/aggregator"
	"github.com/dennisdiepolder/monti/supportdesk/internal/auth"
	"github.com/dennisdiepolder/monti/supportdesk/internal/config"
	"github.com/dennisdiepolder/monti/supportdesk/internal/datasync"
	"github.com/dennisdiepolder/monti/supportdesk/internal/event"
	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	// Check status code
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Check content type
	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	// Parse response body
	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	// Check response fields
	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != "supportdesk" {
		t.Errorf("expected service supportdesk, got %s", response["service"])
	}
}

func TestHealthHandlerMethods(t *testing.T) {
	tests := []struct {
		method         string
		expectedStatus int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusOK},    // Handler doesn't check method
		{http.MethodPut, http.StatusOK},     // Handler doesn't check method
		{http.MethodDelete, http.StatusOK},  // Handler doesn't check method
		{http.MethodOptions, http.StatusOK}, // Handler doesn't check method
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			rec := httptest.NewRecorder()

			healthHandler(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}
}

func newTestServer(t *testing.T) (*server, *storage.MemoryBackend) {
	t.Helper()
	logger := zerolog.New(&bytes.Buffer{})
	cfg := &config.Config{AllowedOrigins: []string{"http://localhost:5173"}, PageSize: 10}
	m := metrics.New(prometheus.NewRegistry())
	backend := storage.NewMemoryBackend()

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(logger, m)
	go hub.Run(ctx)

	store := datasync.New(backend, datasync.WithLogger(logger), datasync.WithNotifier(hub), datasync.WithMetrics(m))
	if err := store.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		store.Dispose()
		cancel()
	})

	return &server{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		aggregator: aggregator.NewAggregator(store, hub, 0, m, logger),
		verifier:   auth.NewSkipVerifier(logger),
		receiver:   event.NewReceiver(backend, "s3cret", m, logger),
		metrics:    m,
		logger:     logger,
	}, backend
}

func TestRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.routes()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/state", http.StatusOK},
		{http.MethodGet, "/api/tickets", http.StatusOK},
		{http.MethodGet, "/api/reports/summary", http.StatusOK},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
		{http.MethodPost, "/internal/changes", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestWebhookTriggersRefetch(t *testing.T) {
	s, backend := newTestServer(t)
	router := s.routes()

	backend.Seed("tickets", map[string]interface{}{"id": "a", "title": "Printer", "status": "open", "customer_id": "c1"})

	body := `{"type":"INSERT","table":"tickets","record":{"id":"a"}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/changes", strings.NewReader(body))
	req.Header.Set(event.SecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	s.store.Wait()

	if len(s.store.Tickets()) != 1 {
		t.Errorf("expected ticket refetched after webhook, got %d", len(s.store.Tickets()))
	}
}
