package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Phoenix closes sockets that stay silent for 60s
	realtimeHeartbeat = 25 * time.Second

	realtimeWriteTimeout = 10 * time.Second

	// Reconnect backoff
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	topicPrefix = "realtime:public:"
)

// phoenixMessage is the Phoenix channel wire envelope
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// changePayload covers both the postgres_changes data object and the legacy
// per-event payload
type changePayload struct {
	Type            string                 `json:"type"`
	EventType       string                 `json:"eventType"`
	Table           string                 `json:"table"`
	Record          map[string]interface{} `json:"record"`
	OldRecord       map[string]interface{} `json:"old_record"`
	CommitTimestamp string                 `json:"commit_timestamp"`
}

// RealtimeClient keeps a Supabase Realtime socket open and forwards row
// changes of joined tables to a Publisher
type RealtimeClient struct {
	endpoint string
	apiKey   string
	pub      Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	heartbeat  time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	topics    map[string]string // table -> join ref
	ref       uint64
	connected bool
	closed    bool
}

// NewRealtimeClient creates a client for the project at baseURL (http or
// https). It does not connect until Run is called. m may be nil.
func NewRealtimeClient(baseURL, apiKey string, pub Publisher, m *metrics.Metrics, logger zerolog.Logger) *RealtimeClient {
	wsURL := strings.TrimSuffix(baseURL, "/")
	// Convert http:// to ws:// or https:// to wss://
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")

	return &RealtimeClient{
		endpoint:   wsURL + "/realtime/v1/websocket?" + q.Encode(),
		apiKey:     apiKey,
		pub:        pub,
		metrics:    m,
		logger:     logger.With().Str("component", "realtime").Logger(),
		heartbeat:  realtimeHeartbeat,
		minBackoff: initialReconnectDelay,
		maxBackoff: maxReconnectDelay,
		topics:     make(map[string]string),
	}
}

// Run connects and keeps the connection alive until ctx is done or Close is
// called. Joined topics are rejoined after every reconnect.
func (c *RealtimeClient) Run(ctx context.Context) {
	reconnectDelay := c.minBackoff

	for {
		if c.isClosed() {
			return
		}

		select {
		case <-ctx.Done():
			c.Close()
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("realtime connection failed, retrying")
			select {
			case <-ctx.Done():
				c.Close()
				return
			case <-time.After(reconnectDelay):
			}
			// Exponential backoff
			reconnectDelay *= 2
			if reconnectDelay > c.maxBackoff {
				reconnectDelay = c.maxBackoff
			}
			c.metrics.RecordRealtimeReconnect()
			continue
		}

		reconnectDelay = c.minBackoff
		c.logger.Info().Msg("realtime connected")

		c.rejoin()
		c.runLoop(ctx)

		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		c.logger.Warn().Msg("realtime connection lost")
	}
}

// Join starts forwarding changes of table. The join is sent immediately when
// connected, otherwise on the next connect.
func (c *RealtimeClient) Join(_ context.Context, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("realtime client closed")
	}
	if _, ok := c.topics[table]; ok {
		return nil
	}

	ref := c.nextRefLocked()
	c.topics[table] = ref
	if c.connected {
		return c.writeLocked(joinMessage(table, ref, c.apiKey))
	}
	return nil
}

// Leave stops forwarding changes of table. Leaving a topic that was never
// joined is a no-op.
func (c *RealtimeClient) Leave(table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.topics[table]; !ok {
		return nil
	}
	delete(c.topics, table)

	if !c.connected {
		return nil
	}
	return c.writeLocked(phoenixMessage{
		Topic:   topicPrefix + table,
		Event:   "phx_leave",
		Payload: json.RawMessage(`{}`),
		Ref:     strPtr(c.nextRefLocked()),
	})
}

// Topics returns the tables currently joined
func (c *RealtimeClient) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	tables := make([]string, 0, len(c.topics))
	for t := range c.topics {
		tables = append(tables, t)
	}
	return tables
}

// IsConnected returns whether the socket is established
func (c *RealtimeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close permanently closes the connection and prevents reconnects
func (c *RealtimeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *RealtimeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *RealtimeClient) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return fmt.Errorf("realtime client closed")
	}
	c.conn = conn
	c.connected = true
	return nil
}

func (c *RealtimeClient) rejoin() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for table := range c.topics {
		ref := c.nextRefLocked()
		c.topics[table] = ref
		if err := c.writeLocked(joinMessage(table, ref, c.apiKey)); err != nil {
			c.logger.Warn().Err(err).Str("table", table).Msg("failed to rejoin topic")
		}
	}
}

// runLoop sends heartbeats and dispatches incoming messages
func (c *RealtimeClient) runLoop(ctx context.Context) {
	heartbeatTicker := time.NewTicker(c.heartbeat)
	defer heartbeatTicker.Stop()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.handleIncoming(message)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-readDone
			return
		case <-readDone:
			return
		case <-heartbeatTicker.C:
			c.mu.Lock()
			err := c.writeLocked(phoenixMessage{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: json.RawMessage(`{}`),
				Ref:     strPtr(c.nextRefLocked()),
			})
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (c *RealtimeClient) handleIncoming(message []byte) {
	var msg phoenixMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring malformed realtime message")
		return
	}

	switch msg.Event {
	case "postgres_changes":
		var envelope struct {
			Data changePayload `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
			c.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("failed to decode change payload")
			return
		}
		c.dispatch(msg.Topic, envelope.Data)
	case "INSERT", "UPDATE", "DELETE":
		var payload changePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("failed to decode change payload")
			return
		}
		if payload.Type == "" {
			payload.Type = msg.Event
		}
		c.dispatch(msg.Topic, payload)
	case "phx_reply":
		var reply struct {
			Status   string          `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status != "ok" {
			c.logger.Warn().
				Str("topic", msg.Topic).
				Str("status", reply.Status).
				RawJSON("response", nonEmptyJSON(reply.Response)).
				Msg("realtime request rejected")
		}
	case "phx_error", "phx_close":
		c.logger.Warn().Str("topic", msg.Topic).Str("event", msg.Event).Msg("realtime channel closed by server")
	case "system", "presence_state", "presence_diff":
		// Ignore
	}
}

func (c *RealtimeClient) dispatch(topic string, p changePayload) {
	table := p.Table
	if table == "" {
		table = strings.TrimPrefix(topic, topicPrefix)
	}
	eventType := p.Type
	if eventType == "" {
		eventType = p.EventType
	}

	change := Change{
		Table:     table,
		Type:      ChangeEvent(strings.ToUpper(eventType)),
		Record:    p.Record,
		OldRecord: p.OldRecord,
	}
	if ts, err := time.Parse(time.RFC3339Nano, p.CommitTimestamp); err == nil {
		change.CommitTimestamp = ts
	}

	delivered := c.pub.Publish(change)
	c.logger.Debug().
		Str("table", table).
		Str("type", string(change.Type)).
		Int("subscribers", delivered).
		Msg("realtime change received")
}

// writeLocked writes one message. Caller holds c.mu.
func (c *RealtimeClient) writeLocked(msg phoenixMessage) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("realtime not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *RealtimeClient) nextRefLocked() string {
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}

func joinMessage(table, ref, apiKey string) phoenixMessage {
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"broadcast": map[string]bool{"self": false},
			"presence":  map[string]string{"key": ""},
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": "public", "table": table},
			},
		},
		"access_token": apiKey,
	}
	data, _ := json.Marshal(payload)
	return phoenixMessage{
		Topic:   topicPrefix + table,
		Event:   "phx_join",
		Payload: data,
		Ref:     strPtr(ref),
	}
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

func strPtr(s string) *string {
	return &s
}
