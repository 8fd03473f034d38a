package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/rs/zerolog"
)

// Source is the cached data a report is computed from
type Source interface {
	Tickets() []types.Ticket
	Agents() []types.Agent
	Customers() []types.Customer
	Notifications() []types.Notification
	Version() uint64
}

// Broadcaster delivers reports to connected dashboards
type Broadcaster interface {
	BroadcastJSON(v interface{})
	ClientCount() int
}

// Aggregator turns the cached collections into report widgets
type Aggregator struct {
	source   Source
	hub      Broadcaster
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	lastVersion uint64
	sent        bool
}

// NewAggregator creates a new aggregator. m may be nil.
func NewAggregator(source Source, hub Broadcaster, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Aggregator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		source:   source,
		hub:      hub,
		interval: interval,
		metrics:  m,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		now:      time.Now,
	}
}

// Start broadcasts a report whenever the store version moved since the last one
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.interval).Msg("aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return

		case <-ticker.C:
			a.Tick()
		}
	}
}

// Tick runs one aggregation cycle. It reports whether a summary was sent.
func (a *Aggregator) Tick() bool {
	version := a.source.Version()

	a.mu.Lock()
	if a.sent && version == a.lastVersion {
		a.mu.Unlock()
		return false
	}
	a.lastVersion = version
	a.sent = true
	a.mu.Unlock()

	cycleStart := time.Now()
	summary := a.Summary()
	a.hub.BroadcastJSON(summary)
	a.metrics.RecordReport(time.Since(cycleStart))

	a.logger.Debug().
		Uint64("version", version).
		Int("tickets", summary.TotalTickets).
		Int("clients", a.hub.ClientCount()).
		Msg("report broadcasted")
	return true
}

// Summary computes the report from the current cache
func (a *Aggregator) Summary() types.ReportSummary {
	now := a.now()
	summary := types.ReportSummary{
		Type:              types.MessageReport,
		Timestamp:         now,
		Version:           a.source.Version(),
		TicketsByStatus:   make(map[types.TicketStatus]int),
		TicketsByPriority: make(map[types.TicketPriority]int),
		AgentsByStatus:    make(map[types.AgentStatus]int),
		CustomersByPlan:   make(map[types.CustomerPlan]int),
	}

	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	var ratingSum, rated int
	tickets := a.source.Tickets()
	summary.TotalTickets = len(tickets)
	for _, t := range tickets {
		summary.TicketsByStatus[t.Status]++
		summary.TicketsByPriority[t.Priority]++

		open := t.Status == types.TicketOpen || t.Status == types.TicketInProgress
		if open && t.Priority == types.PriorityHigh {
			summary.OpenHighPriority++
		}
		if t.ResolvedAt != nil && !t.ResolvedAt.Before(startOfDay) {
			summary.ResolvedToday++
		}
		if t.SatisfactionRating != nil {
			ratingSum += *t.SatisfactionRating
			rated++
		}
	}
	if rated > 0 {
		summary.AvgSatisfaction = float64(ratingSum) / float64(rated)
	}

	agents := a.source.Agents()
	summary.TotalAgents = len(agents)
	var perfSum float64
	for _, ag := range agents {
		summary.AgentsByStatus[ag.Status]++
		perfSum += ag.PerformanceScore
	}
	if len(agents) > 0 {
		summary.AvgAgentPerformance = perfSum / float64(len(agents))
	}

	customers := a.source.Customers()
	summary.TotalCustomers = len(customers)
	for _, c := range customers {
		summary.CustomersByPlan[c.Plan]++
	}

	for _, n := range a.source.Notifications() {
		if !n.IsRead {
			summary.UnreadNotifications++
		}
	}

	return summary
}
