package event

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/rs/zerolog"
)

// SecretHeader carries the shared webhook secret
const SecretHeader = "X-Webhook-Secret"

// webhookPayload is the body of a database webhook
type webhookPayload struct {
	Type      storage.ChangeEvent    `json:"type"`
	Table     string                 `json:"table"`
	Schema    string                 `json:"schema"`
	Record    map[string]interface{} `json:"record"`
	OldRecord map[string]interface{} `json:"old_record"`
}

// Receiver turns database webhooks into change notifications
type Receiver struct {
	publisher       storage.Publisher
	secret          string
	metrics         *metrics.Metrics
	logger          zerolog.Logger
	changesReceived int64
	lastReceived    time.Time
	mu              sync.RWMutex
}

// NewReceiver creates a new webhook receiver. An empty secret accepts every
// request.
func NewReceiver(publisher storage.Publisher, secret string, m *metrics.Metrics, logger zerolog.Logger) *Receiver {
	return &Receiver{
		publisher: publisher,
		secret:    secret,
		metrics:   m,
		logger:    logger.With().Str("component", "webhook").Logger(),
	}
}

// HandleChange receives one row change and fans it out to subscribers
func (r *Receiver) HandleChange(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.secret != "" {
		got := req.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(r.secret)) != 1 {
			r.metrics.RecordWebhookError()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload webhookPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode change")
		r.metrics.RecordWebhookError()
		http.Error(w, "invalid change", http.StatusBadRequest)
		return
	}

	switch payload.Type {
	case storage.EventInsert, storage.EventUpdate, storage.EventDelete:
	default:
		r.metrics.RecordWebhookError()
		http.Error(w, "invalid change type", http.StatusBadRequest)
		return
	}
	if payload.Table == "" {
		r.metrics.RecordWebhookError()
		http.Error(w, "missing table", http.StatusBadRequest)
		return
	}

	r.metrics.RecordWebhookReceived()

	delivered := r.publisher.Publish(storage.Change{
		Table:           payload.Table,
		Type:            payload.Type,
		Record:          payload.Record,
		OldRecord:       payload.OldRecord,
		CommitTimestamp: time.Now().UTC(),
	})

	count := atomic.AddInt64(&r.changesReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	r.logger.Debug().
		Str("table", payload.Table).
		Str("type", string(payload.Type)).
		Int("subscribers", delivered).
		Int64("total_received", count).
		Msg("change received")

	w.WriteHeader(http.StatusAccepted)
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"changes_received": atomic.LoadInt64(&r.changesReceived),
		"last_received":    lastReceived,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
