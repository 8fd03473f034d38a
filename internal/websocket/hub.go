package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/monti/supportdesk/internal/datasync"
	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/rs/zerolog"
)

// StoreSource is the part of the data sync store the hub mirrors to clients
type StoreSource interface {
	OnChange(fn func(datasync.ChangeEvent))
	Items(c types.Collection) (interface{}, bool)
	Snapshot() types.StateSnapshot
	Version() uint64
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Builds the messages a client receives right after connecting
	welcome func() [][]byte

	// Mutex to protect clients map and welcome
	mu sync.RWMutex

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHub creates a new Hub. m may be nil.
func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		metrics:    m,
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			welcome := h.welcome
			total := len(h.clients)
			h.mu.Unlock()

			h.metrics.RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

			if welcome != nil {
				for _, msg := range welcome() {
					h.sendTo(client, msg)
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.broadcastRaw(message)
		}
	}
}

// Broadcast queues a message for all connected clients. It is dropped once the
// hub has stopped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// BroadcastJSON marshals v and broadcasts it
func (h *Hub) BroadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.metrics.RecordWebSocketError()
		h.logger.Error().Err(err).Msg("failed to marshal broadcast message")
		return
	}
	h.Broadcast(data)
}

// Notify pushes a toast to every client
func (h *Hub) Notify(t types.Toast) {
	h.BroadcastJSON(types.ToastMessage{Type: types.MessageToast, Toast: t})
}

// Attach mirrors the store to clients: every collection replacement is pushed
// as a collection message and every other change as a state message. New
// clients receive the state and all collections on connect.
func (h *Hub) Attach(store StoreSource) {
	h.mu.Lock()
	h.welcome = func() [][]byte {
		version := store.Version()
		msgs := make([][]byte, 0, len(types.AllCollections)+1)
		if data, err := json.Marshal(types.StateMessage{Type: types.MessageState, State: store.Snapshot()}); err == nil {
			msgs = append(msgs, data)
		}
		for _, c := range types.AllCollections {
			items, _ := store.Items(c)
			data, err := json.Marshal(types.CollectionMessage{
				Type:       types.MessageCollection,
				Collection: c,
				Version:    version,
				Items:      items,
			})
			if err != nil {
				h.logger.Error().Err(err).Str("collection", string(c)).Msg("failed to marshal collection")
				continue
			}
			msgs = append(msgs, data)
		}
		return msgs
	}
	h.mu.Unlock()

	store.OnChange(func(ev datasync.ChangeEvent) {
		if ev.Collection == "" {
			state := store.Snapshot()
			state.Version = ev.Version
			h.BroadcastJSON(types.StateMessage{Type: types.MessageState, State: state})
			return
		}
		items, ok := store.Items(ev.Collection)
		if !ok {
			return
		}
		h.BroadcastJSON(types.CollectionMessage{
			Type:       types.MessageCollection,
			Collection: ev.Collection,
			Version:    ev.Version,
			Items:      items,
		})
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastRaw sends a raw message to all clients
func (h *Hub) broadcastRaw(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.sendLocked(client, message)
	}
}

func (h *Hub) sendTo(client *Client, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client] {
		h.sendLocked(client, message)
	}
}

func (h *Hub) sendLocked(client *Client, message []byte) {
	select {
	case client.send <- message:
		h.metrics.RecordWebSocketMessage()
	default:
		// Client's send buffer is full, close and remove it
		close(client.send)
		delete(h.clients, client)
		h.metrics.RecordWebSocketError()
		h.metrics.RecordWebSocketDisconnect()
		h.logger.Warn().
			Str("client_id", client.id).
			Msg("client send buffer full, closing connection")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		h.metrics.RecordWebSocketDisconnect()
	}
	h.logger.Info().Msg("hub stopped")
}
