package aggregator

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/rs/zerolog"
)

type fakeSource struct {
	tickets       []types.Ticket
	agents        []types.Agent
	customers     []types.Customer
	notifications []types.Notification
	version       uint64
}

func (f *fakeSource) Tickets() []types.Ticket             { return f.tickets }
func (f *fakeSource) Agents() []types.Agent               { return f.agents }
func (f *fakeSource) Customers() []types.Customer         { return f.customers }
func (f *fakeSource) Notifications() []types.Notification { return f.notifications }
func (f *fakeSource) Version() uint64                     { return f.version }

type recordingHub struct {
	mu   sync.Mutex
	sent []interface{}
}

func (r *recordingHub) BroadcastJSON(v interface{}) {
	r.mu.Lock()
	r.sent = append(r.sent, v)
	r.mu.Unlock()
}

func (r *recordingHub) ClientCount() int { return 1 }

func intPtr(i int) *int { return &i }

func TestSummary(t *testing.T) {
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	today := now.Add(-2 * time.Hour)
	yesterday := now.Add(-20 * time.Hour)

	src := &fakeSource{
		version: 7,
		tickets: []types.Ticket{
			{ID: "1", Status: types.TicketOpen, Priority: types.PriorityHigh},
			{ID: "2", Status: types.TicketInProgress, Priority: types.PriorityHigh, SatisfactionRating: intPtr(4)},
			{ID: "3", Status: types.TicketResolved, Priority: types.PriorityHigh, ResolvedAt: &today, SatisfactionRating: intPtr(5)},
			{ID: "4", Status: types.TicketResolved, Priority: types.PriorityLow, ResolvedAt: &yesterday},
		},
		agents: []types.Agent{
			{ID: "a", Status: types.AgentOnline, PerformanceScore: 90},
			{ID: "b", Status: types.AgentAway, PerformanceScore: 70},
		},
		customers: []types.Customer{
			{ID: "c1", Plan: types.PlanPro},
			{ID: "c2", Plan: types.PlanPro},
			{ID: "c3", Plan: types.PlanFree},
		},
		notifications: []types.Notification{
			{ID: "n1", IsRead: false},
			{ID: "n2", IsRead: true},
		},
	}

	agg := NewAggregator(src, &recordingHub{}, time.Second, nil, zerolog.New(&bytes.Buffer{}))
	agg.now = func() time.Time { return now }

	s := agg.Summary()

	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"type", s.Type, types.MessageReport},
		{"version", s.Version, uint64(7)},
		{"total tickets", s.TotalTickets, 4},
		{"open", s.TicketsByStatus[types.TicketOpen], 1},
		{"resolved", s.TicketsByStatus[types.TicketResolved], 2},
		{"high", s.TicketsByPriority[types.PriorityHigh], 3},
		{"open high priority", s.OpenHighPriority, 2},
		{"resolved today", s.ResolvedToday, 1},
		{"avg satisfaction", s.AvgSatisfaction, 4.5},
		{"total agents", s.TotalAgents, 2},
		{"agents online", s.AgentsByStatus[types.AgentOnline], 1},
		{"avg performance", s.AvgAgentPerformance, 80.0},
		{"customers", s.TotalCustomers, 3},
		{"pro customers", s.CustomersByPlan[types.PlanPro], 2},
		{"unread", s.UnreadNotifications, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestSummaryEmpty(t *testing.T) {
	agg := NewAggregator(&fakeSource{}, &recordingHub{}, 0, nil, zerolog.New(&bytes.Buffer{}))
	s := agg.Summary()

	if s.AvgSatisfaction != 0 || s.AvgAgentPerformance != 0 {
		t.Errorf("expected zero averages, got %v and %v", s.AvgSatisfaction, s.AvgAgentPerformance)
	}
	if s.TicketsByStatus == nil {
		t.Error("expected initialized maps")
	}
	if agg.interval != time.Second {
		t.Errorf("expected default interval, got %v", agg.interval)
	}
}

func TestTickOnlyOnVersionChange(t *testing.T) {
	src := &fakeSource{version: 1}
	hub := &recordingHub{}
	agg := NewAggregator(src, hub, time.Second, nil, zerolog.New(&bytes.Buffer{}))

	if !agg.Tick() {
		t.Error("expected first tick to broadcast")
	}
	if agg.Tick() {
		t.Error("expected no broadcast without a version change")
	}
	src.version = 2
	if !agg.Tick() {
		t.Error("expected broadcast after version change")
	}

	if len(hub.sent) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(hub.sent))
	}
	if _, ok := hub.sent[0].(types.ReportSummary); !ok {
		t.Errorf("expected ReportSummary, got %T", hub.sent[0])
	}
}
