package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/supportdesk/internal/datasync"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/go-chi/chi/v5"
)

// TicketPage is the paginated tickets view
type TicketPage struct {
	Items       []types.Ticket `json:"items"`
	Total       int            `json:"total"`
	CurrentPage int            `json:"currentPage"`
	TotalPages  int            `json:"totalPages"`
	PageSize    int            `json:"pageSize"`
}

// GetState handles GET /api/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view(r).Snapshot())
}

// SetSearch handles PUT /api/search
func (h *Handler) SetSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term string `json:"term"`
	}
	if !decode(w, r, &req) {
		return
	}
	view := h.view(r)
	view.SetSearchTerm(req.Term)
	writeJSON(w, http.StatusOK, view.Snapshot())
}

// SetPage handles PUT /api/page
func (h *Handler) SetPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	if !decode(w, r, &req) {
		return
	}
	view := h.view(r)
	view.SetCurrentPage(req.Page)
	writeJSON(w, http.StatusOK, view.Snapshot())
}

// SetSelection handles PUT /api/selection
func (h *Handler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decode(w, r, &req) {
		return
	}
	view := h.view(r)
	view.SetSelection(req.IDs)
	writeJSON(w, http.StatusOK, map[string][]string{"selectedItems": view.SelectedItems()})
}

// ClearSelection handles DELETE /api/selection
func (h *Handler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.view(r).ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// ToggleSelection handles POST /api/selection/toggle
func (h *Handler) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	view := h.view(r)
	selected := view.ToggleSelected(req.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            req.ID,
		"selected":      selected,
		"selectedItems": view.SelectedItems(),
	})
}

// ListTickets handles GET /api/tickets. The requesting user's current page
// of their filtered tickets is returned unless all=true.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	filtered, page := h.view(r).Listing()
	if r.URL.Query().Get("all") == "true" {
		writeJSON(w, http.StatusOK, filtered)
		return
	}

	size := h.store.PageSize()
	writeJSON(w, http.StatusOK, TicketPage{
		Items:       datasync.Paginate(filtered, page, size),
		Total:       len(filtered),
		CurrentPage: page,
		TotalPages:  datasync.TotalPages(len(filtered), size),
		PageSize:    size,
	})
}

// ListCustomers handles GET /api/customers?search=&plan=
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.store.FilteredCustomers(datasync.CustomerFilter{
		Search: q.Get("search"),
		Plan:   types.CustomerPlan(q.Get("plan")),
	}))
}

// ListAgents handles GET /api/agents?search=&status=&role=
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.store.FilteredAgents(datasync.AgentFilter{
		Search: q.Get("search"),
		Status: types.AgentStatus(q.Get("status")),
		Role:   types.AgentRole(q.Get("role")),
	}))
}

// ListCollection handles GET for the secondary collections
func (h *Handler) ListCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := types.ParseCollection(chi.URLParam(r, "collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	items, _ := h.store.Items(c)
	writeJSON(w, http.StatusOK, items)
}

// Refresh handles POST /api/refresh/{collection}
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, ok := types.ParseCollection(chi.URLParam(r, "collection"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	if err := h.store.Refresh(r.Context(), c); err != nil {
		writeStoreError(w, err)
		return
	}
	items, _ := h.store.Items(c)
	writeJSON(w, http.StatusOK, items)
}

// GetReport handles GET /api/reports/summary
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reporter.Summary())
}
