// Package datasync mirrors the remote support tables into local caches and
// runs every read, write and export the console performs against them.
package datasync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/supportdesk/internal/cache"
	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/rs/zerolog"
)

// DefaultPageSize is the number of tickets per page
const DefaultPageSize = 10

// auditTimeout bounds a detached audit log insert
const auditTimeout = 10 * time.Second

// ErrDisposed is returned by operations on a store that has been disposed
var ErrDisposed = errors.New("store disposed")

// Notifier shows transient messages to the user
type Notifier interface {
	Notify(toast types.Toast)
}

// ChangeEvent is delivered to listeners after any state change. Collection is
// empty when only loading or intent state changed.
type ChangeEvent struct {
	Collection types.Collection
	Version    uint64
}

type nopNotifier struct{}

func (nopNotifier) Notify(types.Toast) {}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger.With().Str("component", "datasync").Logger() }
}

// WithNotifier sets where user-facing toasts go
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithPageSize sets the ticket page size. Non-positive values are ignored.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithStrictOrdering drops fetch responses older than the newest one already
// applied to the same collection. Without it the last response to arrive wins.
func WithStrictOrdering(strict bool) Option {
	return func(s *Store) { s.strict = strict }
}

// WithClock overrides the clock used for updated_at and resolved_at stamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the console's read-through cache over the remote tables. Create
// one with New; every instance is independent. The embedded View is the
// store's own intent state; ViewFor hands out more views over the same caches.
type Store struct {
	*View

	backend  storage.Backend
	logger   zerolog.Logger
	notifier Notifier
	metrics  *metrics.Metrics
	pageSize int
	strict   bool
	now      func() time.Time

	customers     *cache.Collection[types.Customer]
	agents        *cache.Collection[types.Agent]
	tickets       *cache.Collection[types.Ticket]
	notifications *cache.Collection[types.Notification]
	systemLogs    *cache.Collection[types.SystemLog]
	templates     *cache.Collection[types.Template]
	automations   *cache.Collection[types.Automation]

	mu                sync.RWMutex
	loading           int
	collectionLoading map[types.Collection]int
	views             map[string]*View
	version           uint64
	issued            map[types.Collection]uint64
	applied           map[types.Collection]uint64
	listeners         []func(ChangeEvent)
	subs              []storage.Subscription
	disposed          bool

	wg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates a store reading and writing through backend
func New(backend storage.Backend, opts ...Option) *Store {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Store{
		backend:           backend,
		logger:            zerolog.Nop(),
		notifier:          nopNotifier{},
		pageSize:          DefaultPageSize,
		now:               time.Now,
		customers:         cache.NewCollection[types.Customer](),
		agents:            cache.NewCollection[types.Agent](),
		tickets:           cache.NewCollection[types.Ticket](),
		notifications:     cache.NewCollection[types.Notification](),
		systemLogs:        cache.NewCollection[types.SystemLog](),
		templates:         cache.NewCollection[types.Template](),
		automations:       cache.NewCollection[types.Automation](),
		collectionLoading: make(map[types.Collection]int),
		views:             make(map[string]*View),
		issued:            make(map[types.Collection]uint64),
		applied:           make(map[types.Collection]uint64),
		bgCtx:             bgCtx,
		bgCancel:          bgCancel,
	}
	s.View = newView(s, func() { s.changed("") })
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to be called after every state change. Listeners run
// on the goroutine that made the change and must not block.
func (s *Store) OnChange(fn func(ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Loading reports whether a customers, agents or tickets fetch or a bulk
// update is in flight
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// CollectionLoading reports whether a fetch of c is in flight
func (s *Store) CollectionLoading(c types.Collection) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectionLoading[c] > 0
}

// Version increases with every state change
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// PageSize returns the ticket page size
func (s *Store) PageSize() int {
	return s.pageSize
}

// Disposed reports whether Dispose has been called
func (s *Store) Disposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

// Customers returns the cached customers, newest first
func (s *Store) Customers() []types.Customer { return s.customers.Snapshot() }

// Agents returns the cached agents, newest first
func (s *Store) Agents() []types.Agent { return s.agents.Snapshot() }

// Tickets returns the cached tickets with their customer and agent joins
func (s *Store) Tickets() []types.Ticket { return s.tickets.Snapshot() }

// Notifications returns the cached notifications
func (s *Store) Notifications() []types.Notification { return s.notifications.Snapshot() }

// SystemLogs returns the cached audit entries
func (s *Store) SystemLogs() []types.SystemLog { return s.systemLogs.Snapshot() }

// Templates returns the cached response templates
func (s *Store) Templates() []types.Template { return s.templates.Snapshot() }

// Automations returns the cached automation rules
func (s *Store) Automations() []types.Automation { return s.automations.Snapshot() }

// Items returns the cached rows of c as a slice of its entity type
func (s *Store) Items(c types.Collection) (interface{}, bool) {
	switch c {
	case types.CollectionCustomers:
		return s.Customers(), true
	case types.CollectionAgents:
		return s.Agents(), true
	case types.CollectionTickets:
		return s.Tickets(), true
	case types.CollectionNotifications:
		return s.Notifications(), true
	case types.CollectionSystemLogs:
		return s.SystemLogs(), true
	case types.CollectionTemplates:
		return s.Templates(), true
	case types.CollectionAutomations:
		return s.Automations(), true
	}
	return nil, false
}

// Snapshot returns the store's own intent state and the loading state
func (s *Store) Snapshot() types.StateSnapshot {
	return s.snapshot(s.View)
}

// snapshot pairs v's intent state with the loading state. The page count is
// derived from the same search term that is reported.
func (s *Store) snapshot(v *View) types.StateSnapshot {
	term, page, selected := v.state()
	total := TotalPages(len(FilterTickets(s.tickets.Snapshot(), term)), s.pageSize)

	s.mu.RLock()
	defer s.mu.RUnlock()

	loading := make(map[types.Collection]bool, len(types.AllCollections))
	for _, c := range types.AllCollections {
		loading[c] = s.collectionLoading[c] > 0
	}

	return types.StateSnapshot{
		Loading:           s.loading > 0,
		CollectionLoading: loading,
		SearchTerm:        term,
		CurrentPage:       page,
		TotalPages:        total,
		SelectedItems:     selected,
		Version:           s.version,
	}
}

// Start subscribes to change notifications for tickets and notifications.
// Each change triggers one refetch of the affected collection.
func (s *Store) Start(ctx context.Context) error {
	if s.Disposed() {
		return ErrDisposed
	}

	watched := []types.Collection{types.CollectionTickets, types.CollectionNotifications}
	subs := make([]storage.Subscription, 0, len(watched))
	for _, c := range watched {
		sub, err := s.backend.Subscribe(ctx, string(c), storage.EventAll, s.onRemoteChange(c))
		if err != nil {
			for _, prev := range subs {
				prev.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		return ErrDisposed
	}
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()

	s.logger.Info().Int("channels", len(subs)).Msg("subscribed to change notifications")
	return nil
}

// Dispose releases every change subscription, cancels background refetches and
// waits for them and pending audit writes to finish. Results arriving after
// Dispose are dropped. Calling Dispose again is a no-op.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release subscription")
		}
	}
	s.bgCancel()
	s.wg.Wait()

	s.logger.Info().Msg("store disposed")
}

// Wait blocks until background refetches and audit writes have finished
func (s *Store) Wait() {
	s.wg.Wait()
}

// goTracked runs fn in a goroutine that Dispose and Wait account for. It
// returns false without running fn once the store is disposed.
func (s *Store) goTracked(fn func()) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Store) checkOpen() error {
	if s.Disposed() {
		return ErrDisposed
	}
	return nil
}

// changed bumps the version and notifies listeners
func (s *Store) changed(c types.Collection) {
	s.mu.Lock()
	s.version++
	ev := ChangeEvent{Collection: c, Version: s.version}
	listeners := make([]func(ChangeEvent), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (s *Store) notify(level types.ToastLevel, message string) {
	s.notifier.Notify(types.Toast{
		Level:     level,
		Message:   message,
		Timestamp: s.now(),
	})
}

// fail reports err once to the user and logs the original error
func (s *Store) fail(message string, err error) {
	s.logger.Error().Err(err).Msg(message)
	s.notify(types.ToastError, message)
}
