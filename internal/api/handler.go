package api

import (
	"net"
	"net/http"

	"github.com/dennisdiepolder/monti/supportdesk/internal/auth"
	"github.com/dennisdiepolder/monti/supportdesk/internal/datasync"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Reporter serves the reporting widget
type Reporter interface {
	Summary() types.ReportSummary
}

// Handler exposes the data sync store over REST
type Handler struct {
	store    *datasync.Store
	reporter Reporter
	logger   zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(store *datasync.Store, reporter Reporter, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		reporter: reporter,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the console API. Requests must already carry auth claims.
func (h *Handler) Routes(r chi.Router) {
	r.Use(withActor)

	r.Get("/state", h.GetState)
	r.Put("/search", h.SetSearch)
	r.Put("/page", h.SetPage)
	r.Put("/selection", h.SetSelection)
	r.Delete("/selection", h.ClearSelection)
	r.Post("/selection/toggle", h.ToggleSelection)

	r.Get("/tickets", h.ListTickets)
	r.Get("/customers", h.ListCustomers)
	r.Get("/agents", h.ListAgents)
	r.Get("/{collection:notifications|logs|templates|automations}", h.ListCollection)
	r.Post("/refresh/{collection}", h.Refresh)
	r.Get("/reports/summary", h.GetReport)

	r.Post("/tickets", h.CreateTicket)
	r.Patch("/tickets/{id}/status", h.UpdateTicketStatus)
	r.Patch("/tickets/{id}/assign", h.AssignTicket)
	r.Patch("/agents/{id}/status", h.UpdateAgentStatus)
	r.Patch("/notifications/{id}/read", h.MarkNotificationRead)
	r.Post("/notifications/read-all", h.MarkAllNotificationsRead)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(types.RoleSupervisor, types.RoleAdmin))
		r.Post("/tickets/bulk", h.BulkUpdateTickets)
		r.Get("/export/{kind}", h.Export)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(types.RoleAdmin))
		r.Post("/customers", h.CreateCustomer)
		r.Post("/agents", h.CreateAgent)
		r.Patch("/templates/{id}/active", h.SetTemplateActive)
		r.Patch("/automations/{id}/active", h.SetAutomationActive)
	})
}

// withActor attaches the authenticated user and client address to the request
// context for the audit trail
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := datasync.Actor{IPAddress: clientIP(r)}
		if claims, ok := auth.GetUserFromContext(r.Context()); ok {
			actor.UserID = claims.Subject
		}
		next.ServeHTTP(w, r.WithContext(datasync.WithActor(r.Context(), actor)))
	})
}

// view returns the requesting user's search, page and selection. Requests
// without claims share the store's own view.
func (h *Handler) view(r *http.Request) *datasync.View {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return h.store.View
	}
	return h.store.ViewFor(claims.Subject)
}

// clientIP is RemoteAddr without the port. RealIP may already have removed it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
