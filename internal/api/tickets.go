package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/go-chi/chi/v5"
)

// CreateTicket handles POST /api/tickets
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req types.NewTicket
	if !decode(w, r, &req) {
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err := h.store.CreateTicket(r.Context(), req); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "ticket created"})
}

// UpdateTicketStatus handles PATCH /api/tickets/{id}/status
func (h *Handler) UpdateTicketStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status types.TicketStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.store.UpdateTicketStatus(r.Context(), id, req.Status); err != nil {
		writeStoreError(w, err)
		return
	}

	h.logger.Info().Str("ticket_id", id).Str("status", string(req.Status)).Msg("ticket status updated via API")
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

// AssignTicket handles PATCH /api/tickets/{id}/assign
func (h *Handler) AssignTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	if err := h.store.AssignTicket(r.Context(), id, req.AgentID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "agent_id": req.AgentID})
}

// BulkUpdateTickets handles POST /api/tickets/bulk
func (h *Handler) BulkUpdateTickets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs     []string               `json:"ids"`
		Updates map[string]interface{} `json:"updates"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 || len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "ids and updates are required")
		return
	}
	if status, ok := req.Updates["status"].(string); ok && !types.TicketStatus(status).Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.view(r).BulkUpdateTickets(r.Context(), req.IDs, req.Updates); err != nil {
		writeStoreError(w, err)
		return
	}

	h.logger.Info().Int("count", len(req.IDs)).Msg("tickets bulk updated via API")
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(req.IDs)})
}

// UpdateAgentStatus handles PATCH /api/agents/{id}/status
func (h *Handler) UpdateAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status types.AgentStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.store.UpdateAgentStatus(r.Context(), id, req.Status); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}

// MarkNotificationRead handles PATCH /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkNotificationAsRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkAllNotificationsAsRead(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
