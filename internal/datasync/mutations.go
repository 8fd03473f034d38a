package datasync

import (
	"context"
	"fmt"

	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
)

// Actor identifies who triggered an operation, for the audit trail
type Actor struct {
	UserID    string
	IPAddress string
}

type actorKey struct{}

// WithActor attaches the acting user to ctx
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the acting user attached to ctx
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// UpdateTicketStatus sets a ticket's status. Moving to resolved also stamps
// resolved_at. Tickets are refetched afterwards; nothing is patched locally.
func (s *Store) UpdateTicketStatus(ctx context.Context, ticketID string, status types.TicketStatus) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	now := s.now().UTC()
	patch := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == types.TicketResolved {
		patch["resolved_at"] = now
	}

	err := s.backend.Update(ctx, string(types.CollectionTickets), patch, storage.Eq("id", ticketID))
	s.metrics.RecordMutation("update_ticket_status", err)
	if err != nil {
		s.fail("Failed to update ticket status", err)
		return fmt.Errorf("update ticket %s status: %w", ticketID, err)
	}

	s.notify(types.ToastSuccess, "Ticket status updated")
	// A failed refetch is reported on its own; the update already succeeded.
	s.FetchTickets(ctx)
	s.LogAction(ctx, "ticket_status_updated", map[string]interface{}{
		"ticket_id": ticketID,
		"status":    status,
	})
	return nil
}

// AssignTicket sets a ticket's agent
func (s *Store) AssignTicket(ctx context.Context, ticketID, agentID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	patch := map[string]interface{}{
		"agent_id":   agentID,
		"updated_at": s.now().UTC(),
	}
	err := s.backend.Update(ctx, string(types.CollectionTickets), patch, storage.Eq("id", ticketID))
	s.metrics.RecordMutation("assign_ticket", err)
	if err != nil {
		s.fail("Failed to assign ticket", err)
		return fmt.Errorf("assign ticket %s: %w", ticketID, err)
	}

	s.notify(types.ToastSuccess, "Ticket assigned successfully")
	s.FetchTickets(ctx)
	s.LogAction(ctx, "ticket_assigned", map[string]interface{}{
		"ticket_id": ticketID,
		"agent_id":  agentID,
	})
	return nil
}

// CreateTicket inserts t as given. Required fields are not validated here;
// the remote store rejects incomplete rows.
func (s *Store) CreateTicket(ctx context.Context, t types.NewTicket) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.backend.Insert(ctx, string(types.CollectionTickets), t)
	s.metrics.RecordMutation("create_ticket", err)
	if err != nil {
		s.fail("Failed to create ticket", err)
		return fmt.Errorf("create ticket: %w", err)
	}

	s.notify(types.ToastSuccess, "Ticket created successfully")
	s.FetchTickets(ctx)
	s.LogAction(ctx, "ticket_created", map[string]interface{}{
		"title":       t.Title,
		"customer_id": t.CustomerID,
	})
	return nil
}

// UpdateAgentStatus sets an agent's presence
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status types.AgentStatus) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	patch := map[string]interface{}{
		"status":     status,
		"updated_at": s.now().UTC(),
	}
	err := s.backend.Update(ctx, string(types.CollectionAgents), patch, storage.Eq("id", agentID))
	s.metrics.RecordMutation("update_agent_status", err)
	if err != nil {
		s.fail("Failed to update agent status", err)
		return fmt.Errorf("update agent %s status: %w", agentID, err)
	}

	s.notify(types.ToastSuccess, "Agent status updated")
	s.FetchAgents(ctx)
	return nil
}

// BulkUpdateTickets applies patch to every ticket in ticketIDs with a single
// remote update. The batch succeeds or fails as a whole; how many rows were
// affected is not reported. The store's own selection is cleared on success.
func (s *Store) BulkUpdateTickets(ctx context.Context, ticketIDs []string, patch map[string]interface{}) error {
	return s.bulkUpdateTickets(ctx, ticketIDs, patch, s.View)
}

func (s *Store) bulkUpdateTickets(ctx context.Context, ticketIDs []string, patch map[string]interface{}, view *View) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.loading++
	s.mu.Unlock()
	s.changed("")

	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
		s.changed("")
	}()

	body := make(map[string]interface{}, len(patch)+1)
	for k, v := range patch {
		body[k] = v
	}
	body["updated_at"] = s.now().UTC()

	err := s.backend.Update(ctx, string(types.CollectionTickets), body, storage.In("id", ticketIDs))
	s.metrics.RecordMutation("bulk_update_tickets", err)
	if err != nil {
		s.fail("Failed to update tickets", err)
		return fmt.Errorf("bulk update %d tickets: %w", len(ticketIDs), err)
	}

	s.notify(types.ToastSuccess, fmt.Sprintf("%d tickets updated", len(ticketIDs)))
	s.FetchTickets(ctx)
	view.ClearSelection()
	s.LogAction(ctx, "tickets_bulk_updated", map[string]interface{}{
		"ticket_ids": ticketIDs,
		"updates":    patch,
	})
	return nil
}

// MarkNotificationAsRead flags one notification as read
func (s *Store) MarkNotificationAsRead(ctx context.Context, notificationID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	patch := map[string]interface{}{"is_read": true}
	err := s.backend.Update(ctx, string(types.CollectionNotifications), patch, storage.Eq("id", notificationID))
	s.metrics.RecordMutation("mark_notification_read", err)
	if err != nil {
		s.fail("Failed to mark notification as read", err)
		return fmt.Errorf("mark notification %s read: %w", notificationID, err)
	}

	s.FetchNotifications(ctx)
	return nil
}

// MarkAllNotificationsAsRead flags every cached unread notification as read
// with one batch update
func (s *Store) MarkAllNotificationsAsRead(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var unread []string
	for _, n := range s.notifications.Snapshot() {
		if !n.IsRead {
			unread = append(unread, n.ID)
		}
	}
	if len(unread) == 0 {
		return nil
	}

	patch := map[string]interface{}{"is_read": true}
	err := s.backend.Update(ctx, string(types.CollectionNotifications), patch, storage.In("id", unread))
	s.metrics.RecordMutation("mark_all_notifications_read", err)
	if err != nil {
		s.fail("Failed to mark notifications as read", err)
		return fmt.Errorf("mark %d notifications read: %w", len(unread), err)
	}

	s.notify(types.ToastSuccess, "All notifications marked as read")
	s.FetchNotifications(ctx)
	return nil
}

// CreateCustomer inserts a customer
func (s *Store) CreateCustomer(ctx context.Context, c types.NewCustomer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.backend.Insert(ctx, string(types.CollectionCustomers), c)
	s.metrics.RecordMutation("create_customer", err)
	if err != nil {
		s.fail("Failed to create customer", err)
		return fmt.Errorf("create customer: %w", err)
	}

	s.notify(types.ToastSuccess, "Customer created successfully")
	s.FetchCustomers(ctx)
	s.LogAction(ctx, "customer_created", map[string]interface{}{
		"name":  c.Name,
		"email": c.Email,
	})
	return nil
}

// CreateAgent inserts an agent
func (s *Store) CreateAgent(ctx context.Context, a types.NewAgent) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.backend.Insert(ctx, string(types.CollectionAgents), a)
	s.metrics.RecordMutation("create_agent", err)
	if err != nil {
		s.fail("Failed to create agent", err)
		return fmt.Errorf("create agent: %w", err)
	}

	s.notify(types.ToastSuccess, "Agent created successfully")
	s.FetchAgents(ctx)
	s.LogAction(ctx, "agent_created", map[string]interface{}{
		"name":  a.Name,
		"email": a.Email,
		"role":  a.Role,
	})
	return nil
}

// SetTemplateActive enables or disables a response template
func (s *Store) SetTemplateActive(ctx context.Context, templateID string, active bool) error {
	return s.setActive(ctx, types.CollectionTemplates, templateID, active, "template")
}

// SetAutomationActive enables or disables an automation rule
func (s *Store) SetAutomationActive(ctx context.Context, automationID string, active bool) error {
	return s.setActive(ctx, types.CollectionAutomations, automationID, active, "automation")
}

func (s *Store) setActive(ctx context.Context, c types.Collection, id string, active bool, noun string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	patch := map[string]interface{}{
		"is_active":  active,
		"updated_at": s.now().UTC(),
	}
	err := s.backend.Update(ctx, string(c), patch, storage.Eq("id", id))
	s.metrics.RecordMutation("toggle_"+noun, err)
	if err != nil {
		s.fail(fmt.Sprintf("Failed to update %s", noun), err)
		return fmt.Errorf("toggle %s %s: %w", noun, id, err)
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	s.notify(types.ToastSuccess, fmt.Sprintf("%s %s", capitalize(noun), state))
	s.Refresh(ctx, c)
	s.LogAction(ctx, noun+"_"+state, map[string]interface{}{noun + "_id": id})
	return nil
}

// LogAction appends an audit entry without waiting for it. The insert runs on
// a context detached from ctx; a failure is logged and counted but never
// reported to the user or the caller.
func (s *Store) LogAction(ctx context.Context, action string, details interface{}) {
	row := map[string]interface{}{
		"action":  action,
		"details": details,
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if actor.UserID != "" {
			row["user_id"] = actor.UserID
		}
		if actor.IPAddress != "" {
			row["ip_address"] = actor.IPAddress
		}
	}
	detached := context.WithoutCancel(ctx)

	started := s.goTracked(func() {
		insertCtx, cancel := context.WithTimeout(detached, auditTimeout)
		defer cancel()

		if err := s.backend.Insert(insertCtx, string(types.CollectionSystemLogs), row); err != nil {
			s.metrics.RecordAuditFailure()
			s.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
			return
		}
		s.logger.Debug().Str("action", action).Msg("audit log written")
	})
	if !started {
		s.logger.Debug().Str("action", action).Msg("store disposed, audit log skipped")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
