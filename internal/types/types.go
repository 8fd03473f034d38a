package types

import (
	"encoding/json"
	"time"
)

// Collection names a remote table mirrored by the console
type Collection string

const (
	CollectionCustomers     Collection = "customers"
	CollectionAgents        Collection = "agents"
	CollectionTickets       Collection = "tickets"
	CollectionNotifications Collection = "notifications"
	CollectionSystemLogs    Collection = "system_logs"
	CollectionTemplates     Collection = "templates"
	CollectionAutomations   Collection = "automations"
)

// AllCollections lists every mirrored table
var AllCollections = []Collection{
	CollectionCustomers,
	CollectionAgents,
	CollectionTickets,
	CollectionNotifications,
	CollectionSystemLogs,
	CollectionTemplates,
	CollectionAutomations,
}

// ParseCollection accepts a table name or one of the short aliases used by the
// dashboard ("logs").
func ParseCollection(s string) (Collection, bool) {
	if s == "logs" {
		return CollectionSystemLogs, true
	}
	for _, c := range AllCollections {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// CustomerPlan represents the subscription tier of a customer
type CustomerPlan string

const (
	PlanFree    CustomerPlan = "free"
	PlanBasic   CustomerPlan = "basic"
	PlanPro     CustomerPlan = "pro"
	PlanPremium CustomerPlan = "premium"
)

// AgentRole represents the permission level of a support agent
type AgentRole string

const (
	RoleAgent      AgentRole = "agent"
	RoleSupervisor AgentRole = "supervisor"
	RoleAdmin      AgentRole = "admin"
)

// AgentStatus represents the presence of a support agent
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
	AgentAway    AgentStatus = "away"
	AgentOffline AgentStatus = "offline"
)

// TicketStatus represents the lifecycle state of a ticket
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

// Valid reports whether s is a known ticket status
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}

// TicketPriority represents the urgency of a ticket
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
)

// Valid reports whether s is a known agent status
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentOnline, AgentBusy, AgentAway, AgentOffline:
		return true
	}
	return false
}

// Customer is a row of the customers table
type Customer struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Email             string       `json:"email"`
	Phone             *string      `json:"phone"`
	Company           *string      `json:"company"`
	Plan              CustomerPlan `json:"plan"`
	SatisfactionScore float64      `json:"satisfaction_score"` // 0-5
	TotalTickets      int          `json:"total_tickets"`
	AvatarURL         *string      `json:"avatar_url"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Agent is a row of the agents table
type Agent struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Email            string      `json:"email"`
	Role             AgentRole   `json:"role"`
	Status           AgentStatus `json:"status"`
	PerformanceScore float64     `json:"performance_score"` // 0-100
	TotalResolved    int         `json:"total_resolved"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// PartySummary is the customer or agent excerpt embedded into a ticket at read time
type PartySummary struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Ticket is a row of the tickets table with its joined customer and agent
type Ticket struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        *string        `json:"description"`
	Status             TicketStatus   `json:"status"`
	Priority           TicketPriority `json:"priority"`
	Category           string         `json:"category"`
	CustomerID         string         `json:"customer_id"`
	AgentID            *string        `json:"agent_id"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	ResolvedAt         *time.Time     `json:"resolved_at"`
	SatisfactionRating *int           `json:"satisfaction_rating"`
	Customer           *PartySummary  `json:"customer"`
	Agent              *PartySummary  `json:"agent"`
}

// CustomerName returns the joined customer name, empty when the join is absent
func (t Ticket) CustomerName() string {
	if t.Customer == nil {
		return ""
	}
	return t.Customer.Name
}

// Notification is a row of the notifications table
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"is_read"`
	UserID    *string   `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemLog is an append-only audit entry
type SystemLog struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	UserID    *string         `json:"user_id"`
	Details   json.RawMessage `json:"details"`
	IPAddress *string         `json:"ip_address"`
	CreatedAt time.Time       `json:"created_at"`
}

// Template is a canned response
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Automation is a trigger/action rule
type Automation struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	TriggerType string          `json:"trigger_type"`
	Conditions  json.RawMessage `json:"conditions"`
	Actions     json.RawMessage `json:"actions"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewTicket is the insert payload for a ticket. Required columns are the
// caller's responsibility; nothing is validated before sending.
type NewTicket struct {
	Title       string         `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      TicketStatus   `json:"status,omitempty"`
	Priority    TicketPriority `json:"priority,omitempty"`
	Category    string         `json:"category,omitempty"`
	CustomerID  string         `json:"customer_id,omitempty"`
	AgentID     *string        `json:"agent_id,omitempty"`
}

// NewCustomer is the insert payload for a customer
type NewCustomer struct {
	Name    string       `json:"name,omitempty"`
	Email   string       `json:"email,omitempty"`
	Phone   *string      `json:"phone,omitempty"`
	Company *string      `json:"company,omitempty"`
	Plan    CustomerPlan `json:"plan,omitempty"`
}

// NewAgent is the insert payload for an agent
type NewAgent struct {
	Name   string      `json:"name,omitempty"`
	Email  string      `json:"email,omitempty"`
	Role   AgentRole   `json:"role,omitempty"`
	Status AgentStatus `json:"status,omitempty"`
}
