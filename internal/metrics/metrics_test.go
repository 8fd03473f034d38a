package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordFetch("tickets", 20*time.Millisecond, nil)
	m.RecordFetch("tickets", 5*time.Millisecond, errors.New("boom"))
	m.RecordMutation("update_ticket_status", nil)
	m.RecordAuditFailure()
	m.RecordRealtimeChange("tickets", "UPDATE")
	m.RecordRealtimeReconnect()
	m.RecordDroppedResult("agents", "disposed")
	m.RecordWebSocketConnect()
	m.RecordHTTPRequest("/api/tickets", 200, time.Millisecond)

	body := scrape(t, m)

	wants := []string{
		`supportdesk_fetches_total{collection="tickets",status="ok"} 1`,
		`supportdesk_fetches_total{collection="tickets",status="error"} 1`,
		`supportdesk_mutations_total{operation="update_ticket_status",status="ok"} 1`,
		`supportdesk_audit_log_failures_total 1`,
		`supportdesk_realtime_changes_total{table="tickets",type="UPDATE"} 1`,
		`supportdesk_realtime_reconnects_total 1`,
		`supportdesk_dropped_fetch_results_total{collection="agents",reason="disposed"} 1`,
		`supportdesk_websocket_active_connections 1`,
		`supportdesk_http_requests_total{endpoint="/api/tickets",status="200"} 1`,
		`go_goroutines`,
	}
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	// None of these may panic
	m.RecordFetch("tickets", time.Millisecond, nil)
	m.RecordMutation("x", nil)
	m.RecordAuditFailure()
	m.RecordRealtimeChange("tickets", "INSERT")
	m.RecordWebhookReceived()
	m.RecordWebSocketDisconnect()
	m.RecordReport(time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from nil handler, got %d", rec.Code)
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide the way a global registry would
	a := New(prometheus.NewRegistry())
	b := New(nil)

	a.RecordAuditFailure()

	if strings.Contains(scrape(t, b), "supportdesk_audit_log_failures_total 1") {
		t.Error("expected registries to be independent")
	}
}
