package datasync

import (
	"context"
	"sync"

	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
)

// View is one console's ticket search, page and selection over the store's
// shared caches. Changing one view never affects another.
type View struct {
	store    *Store
	onChange func()

	mu          sync.RWMutex
	searchTerm  string
	currentPage int
	selected    []string
}

func newView(s *Store, onChange func()) *View {
	return &View{
		store:       s,
		onChange:    onChange,
		currentPage: 1,
		selected:    make([]string, 0),
	}
}

// ViewFor returns the view owned by key, creating it on first use. An empty
// key returns the store's own view.
func (s *Store) ViewFor(key string) *View {
	if key == "" {
		return s.View
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[key]
	if !ok {
		v = newView(s, nil)
		s.views[key] = v
	}
	return v
}

func (v *View) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}

// state reads the search term, page and selection together
func (v *View) state() (string, int, []string) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	selected := make([]string, len(v.selected))
	copy(selected, v.selected)
	return v.searchTerm, v.currentPage, selected
}

// Snapshot returns the view's intent state with the store's loading state
func (v *View) Snapshot() types.StateSnapshot {
	return v.store.snapshot(v)
}

// Listing returns the filtered tickets and the page they were filtered for
func (v *View) Listing() ([]types.Ticket, int) {
	term, page, _ := v.state()
	return FilterTickets(v.store.tickets.Snapshot(), term), page
}

// FilteredTickets is the cached tickets filtered by the view's search term
func (v *View) FilteredTickets() []types.Ticket {
	filtered, _ := v.Listing()
	return filtered
}

// PaginatedTickets is the current page of FilteredTickets
func (v *View) PaginatedTickets() []types.Ticket {
	filtered, page := v.Listing()
	return Paginate(filtered, page, v.store.pageSize)
}

// TotalPages is the page count of FilteredTickets
func (v *View) TotalPages() int {
	return TotalPages(len(v.FilteredTickets()), v.store.pageSize)
}

// SearchTerm returns the ticket search text
func (v *View) SearchTerm() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.searchTerm
}

// CurrentPage returns the 1-based ticket page
func (v *View) CurrentPage() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.currentPage
}

// SelectedItems returns the selected ids in selection order
func (v *View) SelectedItems() []string {
	_, _, selected := v.state()
	return selected
}

// SetSearchTerm changes the ticket search text and goes back to page 1
func (v *View) SetSearchTerm(term string) {
	v.mu.Lock()
	v.searchTerm = term
	v.currentPage = 1
	v.mu.Unlock()
	v.changed()
}

// SetCurrentPage moves to page p; values below 1 become 1
func (v *View) SetCurrentPage(p int) {
	if p < 1 {
		p = 1
	}
	v.mu.Lock()
	v.currentPage = p
	v.mu.Unlock()
	v.changed()
}

// SetSelection replaces the selection. Duplicates and empty ids are dropped.
func (v *View) SetSelection(ids []string) {
	seen := make(map[string]bool, len(ids))
	selected := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, id)
	}

	v.mu.Lock()
	v.selected = selected
	v.mu.Unlock()
	v.changed()
}

// ToggleSelected adds id to the selection or removes it when already present.
// It reports whether id is selected afterwards.
func (v *View) ToggleSelected(id string) bool {
	v.mu.Lock()
	selected := true
	for i, existing := range v.selected {
		if existing == id {
			v.selected = append(v.selected[:i:i], v.selected[i+1:]...)
			selected = false
			break
		}
	}
	if selected {
		v.selected = append(v.selected, id)
	}
	v.mu.Unlock()

	v.changed()
	return selected
}

// ClearSelection empties the selection
func (v *View) ClearSelection() {
	v.mu.Lock()
	v.selected = make([]string, 0)
	v.mu.Unlock()
	v.changed()
}

// BulkUpdateTickets runs Store.BulkUpdateTickets and clears this view's
// selection on success
func (v *View) BulkUpdateTickets(ctx context.Context, ticketIDs []string, patch map[string]interface{}) error {
	return v.store.bulkUpdateTickets(ctx, ticketIDs, patch, v)
}
