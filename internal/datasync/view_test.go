package datasync

import (
	"context"
	"testing"
)

func TestViewsAreIndependent(t *testing.T) {
	fb := newFakeBackend()
	seedTicketFixtures(t, fb)
	s, _, _ := newTestStore(t, fb, WithPageSize(1))

	if err := s.FetchTickets(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	alice := s.ViewFor("alice")
	bob := s.ViewFor("bob")
	if s.ViewFor("alice") != alice {
		t.Fatal("expected the same view for the same key")
	}
	if s.ViewFor("") != s.View {
		t.Fatal("expected the empty key to return the store's own view")
	}

	version := s.Version()
	alice.SetSearchTerm("refund")
	alice.SetSelection([]string{"b"})
	bob.SetCurrentPage(2)

	if s.Version() != version {
		t.Error("expected user views not to bump the store version")
	}
	if got := ticketIDs(alice.FilteredTickets()); !equalIDs(got, []string{"b"}) {
		t.Errorf("expected alice to see [b], got %v", got)
	}
	if got := ticketIDs(bob.PaginatedTickets()); !equalIDs(got, []string{"a"}) {
		t.Errorf("expected bob's page 2 = [a], got %v", got)
	}
	if bob.SearchTerm() != "" || len(bob.SelectedItems()) != 0 {
		t.Errorf("expected bob untouched, got %q %v", bob.SearchTerm(), bob.SelectedItems())
	}
	if s.SearchTerm() != "" || s.CurrentPage() != 1 {
		t.Errorf("expected the store's own view untouched, got %q page %d", s.SearchTerm(), s.CurrentPage())
	}
}

func TestViewBulkUpdateClearsOwnSelection(t *testing.T) {
	fb := newFakeBackend()
	seedTicketFixtures(t, fb)
	s, _, _ := newTestStore(t, fb)
	ctx := context.Background()

	alice := s.ViewFor("alice")
	alice.SetSelection([]string{"a", "b"})
	s.SetSelection([]string{"a"})

	if err := alice.BulkUpdateTickets(ctx, alice.SelectedItems(), map[string]interface{}{"priority": "medium"}); err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	s.Wait()

	if got := alice.SelectedItems(); len(got) != 0 {
		t.Errorf("expected alice's selection cleared, got %v", got)
	}
	if got := s.SelectedItems(); !equalIDs(got, []string{"a"}) {
		t.Errorf("expected the store's own selection kept, got %v", got)
	}
}

func TestSnapshotPageCountMatchesSearchTerm(t *testing.T) {
	fb := newFakeBackend()
	seedTicketFixtures(t, fb)
	s, _, _ := newTestStore(t, fb, WithPageSize(1))

	if err := s.FetchTickets(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	tests := []struct {
		term      string
		wantPages int
	}{
		{"", 2},
		{"acme", 1},
		{"nothing matches", 0},
	}

	view := s.ViewFor("carol")
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			view.SetSearchTerm(tt.term)
			snap := view.Snapshot()
			if snap.SearchTerm != tt.term || snap.TotalPages != tt.wantPages {
				t.Errorf("expected %q with %d pages, got %q with %d", tt.term, tt.wantPages, snap.SearchTerm, snap.TotalPages)
			}
		})
	}
}
