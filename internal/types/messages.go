package types

import "time"

// Message types pushed to dashboard clients
const (
	MessageCollection = "collection"
	MessageToast      = "toast"
	MessageReport     = "report"
	MessageState      = "state"
)

// ToastLevel is the severity of a transient user notification
type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
	ToastInfo    ToastLevel = "info"
)

// Toast is a transient, non-blocking notification for the user
type Toast struct {
	Level     ToastLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// CollectionMessage carries a full collection snapshot after it was replaced
type CollectionMessage struct {
	Type       string      `json:"type"` // "collection"
	Collection Collection  `json:"collection"`
	Version    uint64      `json:"version"`
	Items      interface{} `json:"items"`
}

// ToastMessage wraps a toast for the websocket
type ToastMessage struct {
	Type  string `json:"type"` // "toast"
	Toast Toast  `json:"toast"`
}

// StateSnapshot is the UI-intent and loading state of the console
type StateSnapshot struct {
	Loading           bool                `json:"loading"`
	CollectionLoading map[Collection]bool `json:"collectionLoading"`
	SearchTerm        string              `json:"searchTerm"`
	CurrentPage       int                 `json:"currentPage"`
	TotalPages        int                 `json:"totalPages"`
	SelectedItems     []string            `json:"selectedItems"`
	Version           uint64              `json:"version"`
}

// StateMessage wraps a state snapshot for the websocket
type StateMessage struct {
	Type  string        `json:"type"` // "state"
	State StateSnapshot `json:"state"`
}

// ReportSummary is the reporting widget computed from the cached collections
type ReportSummary struct {
	Type                string                 `json:"type"` // "report"
	Timestamp           time.Time              `json:"timestamp"`
	Version             uint64                 `json:"version"`
	TotalTickets        int                    `json:"totalTickets"`
	TicketsByStatus     map[TicketStatus]int   `json:"ticketsByStatus"`
	TicketsByPriority   map[TicketPriority]int `json:"ticketsByPriority"`
	OpenHighPriority    int                    `json:"openHighPriority"`
	ResolvedToday       int                    `json:"resolvedToday"`
	AvgSatisfaction     float64                `json:"avgSatisfaction"` // 0 when unrated
	TotalAgents         int                    `json:"totalAgents"`
	AgentsByStatus      map[AgentStatus]int    `json:"agentsByStatus"`
	AvgAgentPerformance float64                `json:"avgAgentPerformance"`
	TotalCustomers      int                    `json:"totalCustomers"`
	CustomersByPlan     map[CustomerPlan]int   `json:"customersByPlan"`
	UnreadNotifications int                    `json:"unreadNotifications"`
}
