package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/go-chi/chi/v5"
)

// CreateCustomer handles POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req types.NewCustomer
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if err := h.store.CreateCustomer(r.Context(), req); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "customer created"})
}

// CreateAgent handles POST /api/agents
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req types.NewAgent
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err := h.store.CreateAgent(r.Context(), req); err != nil {
		writeStoreError(w, err)
		return
	}

	h.logger.Info().Str("email", req.Email).Str("role", string(req.Role)).Msg("agent created via admin")
	writeJSON(w, http.StatusCreated, map[string]string{"message": "agent created"})
}

// SetTemplateActive handles PATCH /api/templates/{id}/active
func (h *Handler) SetTemplateActive(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.store.SetTemplateActive)
}

// SetAutomationActive handles PATCH /api/automations/{id}/active
func (h *Handler) SetAutomationActive(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.store.SetAutomationActive)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, toggle func(context.Context, string, bool) error) {
	id := chi.URLParam(r, "id")
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}

	if err := toggle(r.Context(), id, *req.IsActive); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": *req.IsActive})
}

// Export handles GET /api/export/{kind} as a CSV download
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	kind, ok := types.ParseCollection(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}

	exp, err := h.store.ExportData(r.Context(), kind)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", exp.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Filename))
	w.Header().Set("X-Export-Rows", strconv.Itoa(exp.Rows))
	w.WriteHeader(http.StatusOK)
	w.Write(exp.Data)
}
