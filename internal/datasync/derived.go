package datasync

import (
	"strings"

	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
)

// CustomerFilter narrows the customers listing. Zero fields match everything.
type CustomerFilter struct {
	Search string
	Plan   types.CustomerPlan
}

// AgentFilter narrows the agents listing. Zero fields match everything.
type AgentFilter struct {
	Search string
	Status types.AgentStatus
	Role   types.AgentRole
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

// FilterTickets returns the tickets whose title, customer name or status
// contains term, ignoring case. The input slice is not modified.
func FilterTickets(tickets []types.Ticket, term string) []types.Ticket {
	needle := strings.ToLower(term)
	out := make([]types.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if containsFold(t.Title, needle) ||
			containsFold(t.CustomerName(), needle) ||
			containsFold(string(t.Status), needle) {
			out = append(out, t)
		}
	}
	return out
}

// FilterCustomers matches name, email or company against the search text and
// ANDs the plan filter
func FilterCustomers(customers []types.Customer, f CustomerFilter) []types.Customer {
	needle := strings.ToLower(f.Search)
	out := make([]types.Customer, 0, len(customers))
	for _, c := range customers {
		company := ""
		if c.Company != nil {
			company = *c.Company
		}
		text := containsFold(c.Name, needle) || containsFold(c.Email, needle) || containsFold(company, needle)
		if text && (f.Plan == "" || c.Plan == f.Plan) {
			out = append(out, c)
		}
	}
	return out
}

// FilterAgents matches name or email against the search text and ANDs the
// status and role filters
func FilterAgents(agents []types.Agent, f AgentFilter) []types.Agent {
	needle := strings.ToLower(f.Search)
	out := make([]types.Agent, 0, len(agents))
	for _, a := range agents {
		text := containsFold(a.Name, needle) || containsFold(a.Email, needle)
		if text &&
			(f.Status == "" || a.Status == f.Status) &&
			(f.Role == "" || a.Role == f.Role) {
			out = append(out, a)
		}
	}
	return out
}

// TotalPages is ceil(n/pageSize)
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (n + pageSize - 1) / pageSize
}

// Paginate returns items[(page-1)*pageSize : page*pageSize], clipped to the
// slice. Pages past the end are empty.
func Paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 || pageSize <= 0 {
		return []T{}
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

// FilteredCustomers applies f to the cached customers
func (s *Store) FilteredCustomers(f CustomerFilter) []types.Customer {
	return FilterCustomers(s.customers.Snapshot(), f)
}

// FilteredAgents applies f to the cached agents
func (s *Store) FilteredAgents(f AgentFilter) []types.Agent {
	return FilterAgents(s.agents.Snapshot(), f)
}
