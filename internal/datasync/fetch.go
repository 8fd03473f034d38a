package datasync

import (
	"context"
	"fmt"

	"github.com/dennisdiepolder/monti/supportdesk/internal/cache"
	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"golang.org/x/sync/errgroup"
)

// ticketQuery joins the customer and agent summaries into each ticket
var ticketQuery = storage.Query{
	Embeds: []storage.Embed{
		{Alias: "customer", Table: "customers", ForeignKey: "customer_id", Columns: []string{"name", "email"}},
		{Alias: "agent", Table: "agents", ForeignKey: "agent_id", Columns: []string{"name", "email"}},
	},
	Order: storage.NewestFirst(),
}

var newestFirst = storage.Query{Order: storage.NewestFirst()}

// coarseCollections toggle the shared Loading flag. Secondary collections
// load without blocking the whole page.
var coarseCollections = map[types.Collection]bool{
	types.CollectionCustomers: true,
	types.CollectionAgents:    true,
	types.CollectionTickets:   true,
}

var fetchLabels = map[types.Collection]string{
	types.CollectionCustomers:     "customers",
	types.CollectionAgents:        "agents",
	types.CollectionTickets:       "tickets",
	types.CollectionNotifications: "notifications",
	types.CollectionSystemLogs:    "system logs",
	types.CollectionTemplates:     "templates",
	types.CollectionAutomations:   "automations",
}

// FetchCustomers replaces the cached customers with a fresh read, newest first
func (s *Store) FetchCustomers(ctx context.Context) error {
	return fetchInto(ctx, s, types.CollectionCustomers, s.customers, newestFirst)
}

// FetchAgents replaces the cached agents
func (s *Store) FetchAgents(ctx context.Context) error {
	return fetchInto(ctx, s, types.CollectionAgents, s.agents, newestFirst)
}

// FetchTickets replaces the cached tickets, embedding each ticket's customer
// and agent summary
func (s *Store) FetchTickets(ctx context.Context) error {
	return fetchInto(ctx, s, types.CollectionTickets, s.tickets, ticketQuery)
}

// FetchNotifications replaces the cached notifications
func (s *Store) FetchNotifications(ctx context.Context) error {
	return fetchInto(ctx, s, types.CollectionNotifications, s.notifications, newestFirst)
}

// FetchSystemLogs replaces the cached audit entries
func (s *Store) FetchSystemLogs(ctx context.Context) error {
	return fetchInto(ctx, s, types.CollectionSystemLogs, s.systemLogs, newestFirst)
}

// FetchTemplates replaces the cached response templates
func (s *Store) FetchTemplates(ctx context.Context) error {
	return fetchInto(ctx, s, types.CollectionTemplates, s.templates, newestFirst)
}

// FetchAutomations replaces the cached automation rules
func (s *Store) FetchAutomations(ctx context.Context) error {
	return fetchInto(ctx, s, types.CollectionAutomations, s.automations, newestFirst)
}

// Refresh refetches one collection
func (s *Store) Refresh(ctx context.Context, c types.Collection) error {
	switch c {
	case types.CollectionCustomers:
		return s.FetchCustomers(ctx)
	case types.CollectionAgents:
		return s.FetchAgents(ctx)
	case types.CollectionTickets:
		return s.FetchTickets(ctx)
	case types.CollectionNotifications:
		return s.FetchNotifications(ctx)
	case types.CollectionSystemLogs:
		return s.FetchSystemLogs(ctx)
	case types.CollectionTemplates:
		return s.FetchTemplates(ctx)
	case types.CollectionAutomations:
		return s.FetchAutomations(ctx)
	}
	return fmt.Errorf("%w: %s", storage.ErrUnknownTable, c)
}

// FetchAll loads every collection concurrently. Fetches are independent: one
// failing does not cancel the others. The first error is returned.
func (s *Store) FetchAll(ctx context.Context) error {
	var g errgroup.Group
	for _, c := range types.AllCollections {
		g.Go(func() error {
			return s.Refresh(ctx, c)
		})
	}
	return g.Wait()
}

// fetchInto reads the whole table and replaces coll with the result. On
// failure the cached rows stay as they are.
func fetchInto[T any](ctx context.Context, s *Store, c types.Collection, coll *cache.Collection[T], q storage.Query) error {
	seq, err := s.beginFetch(c)
	if err != nil {
		return err
	}
	defer s.endFetch(c)

	start := s.now()
	var rows []T
	err = s.backend.Select(ctx, string(c), q, &rows)
	s.metrics.RecordFetch(string(c), s.now().Sub(start), err)

	if s.Disposed() {
		s.metrics.RecordDroppedResult(string(c), "disposed")
		return ErrDisposed
	}
	if err != nil {
		s.fail("Failed to fetch "+fetchLabels[c], err)
		return fmt.Errorf("fetch %s: %w", c, err)
	}
	if rows == nil {
		rows = make([]T, 0)
	}

	if !s.apply(c, seq, func() { coll.Replace(rows) }) {
		s.logger.Debug().Str("collection", string(c)).Uint64("seq", seq).Msg("dropping stale fetch result")
		s.metrics.RecordDroppedResult(string(c), "stale")
		return nil
	}

	s.logger.Debug().Str("collection", string(c)).Int("rows", len(rows)).Msg("collection replaced")
	s.changed(c)
	return nil
}

// beginFetch raises the loading flags and issues a sequence number for c
func (s *Store) beginFetch(c types.Collection) (uint64, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return 0, ErrDisposed
	}
	s.issued[c]++
	seq := s.issued[c]
	s.collectionLoading[c]++
	if coarseCollections[c] {
		s.loading++
	}
	s.mu.Unlock()

	s.changed("")
	return seq, nil
}

func (s *Store) endFetch(c types.Collection) {
	s.mu.Lock()
	s.collectionLoading[c]--
	if coarseCollections[c] {
		s.loading--
	}
	disposed := s.disposed
	s.mu.Unlock()

	if !disposed {
		s.changed("")
	}
}

// apply runs replace unless strict ordering rejects seq as stale. The check
// and the replacement happen under one lock.
func (s *Store) apply(c types.Collection, seq uint64, replace func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return false
	}
	if s.strict && seq < s.applied[c] {
		return false
	}
	if seq > s.applied[c] {
		s.applied[c] = seq
	}
	replace()
	return true
}
