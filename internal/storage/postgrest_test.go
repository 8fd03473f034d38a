package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordedRequest struct {
	method string
	path   string
	query  map[string][]string
	header http.Header
	body   []byte
}

func newPostgRESTServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   body,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestPostgRESTSelect(t *testing.T) {
	server, requests := newPostgRESTServer(t, http.StatusOK, `[{"id":"b","title":"Refund"},{"id":"a","title":"Login"}]`)
	b := NewPostgRESTBackend(server.URL+"/", "anon-key", 5*time.Second, zerolog.New(&bytes.Buffer{}))

	var rows []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	q := Query{
		Embeds: []Embed{
			{Alias: "customer", Table: "customers", ForeignKey: "customer_id", Columns: []string{"name", "email"}},
			{Alias: "agent", Table: "agents", ForeignKey: "agent_id", Columns: []string{"name", "email"}},
		},
		Filters: []Filter{Eq("status", "open")},
		Order:   NewestFirst(),
		Limit:   50,
	}
	if err := b.Select(context.Background(), "tickets", q, &rows); err != nil {
		t.Fatalf("select: %v", err)
	}

	if len(rows) != 2 || rows[0].ID != "b" {
		t.Errorf("expected decoded rows in response order, got %+v", rows)
	}

	req := (*requests)[0]
	if req.method != http.MethodGet {
		t.Errorf("expected GET, got %s", req.method)
	}
	if req.path != "/rest/v1/tickets" {
		t.Errorf("expected path /rest/v1/tickets, got %s", req.path)
	}

	checks := map[string]string{
		"select": "*,customer:customers(name,email),agent:agents(name,email)",
		"order":  "created_at.desc",
		"status": "eq.open",
		"limit":  "50",
	}
	for key, want := range checks {
		if got := req.query[key]; len(got) != 1 || got[0] != want {
			t.Errorf("query %s: expected %q, got %v", key, want, got)
		}
	}

	if req.header.Get("apikey") != "anon-key" {
		t.Errorf("expected apikey header, got %q", req.header.Get("apikey"))
	}
	if req.header.Get("Authorization") != "Bearer anon-key" {
		t.Errorf("expected bearer header, got %q", req.header.Get("Authorization"))
	}
}

func TestPostgRESTInsert(t *testing.T) {
	server, requests := newPostgRESTServer(t, http.StatusCreated, "")
	b := NewPostgRESTBackend(server.URL, "anon-key", 5*time.Second, zerolog.New(&bytes.Buffer{}))

	row := map[string]interface{}{"title": "Printer on fire", "customer_id": "c1"}
	if err := b.Insert(context.Background(), "tickets", row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	req := (*requests)[0]
	if req.method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.method)
	}
	if req.header.Get("Prefer") != "return=minimal" {
		t.Errorf("expected Prefer return=minimal, got %q", req.header.Get("Prefer"))
	}
	if req.header.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", req.header.Get("Content-Type"))
	}

	var sent map[string]interface{}
	if err := json.Unmarshal(req.body, &sent); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if sent["title"] != "Printer on fire" {
		t.Errorf("expected title in body, got %v", sent)
	}
}

func TestPostgRESTUpdateIn(t *testing.T) {
	server, requests := newPostgRESTServer(t, http.StatusNoContent, "")
	b := NewPostgRESTBackend(server.URL, "anon-key", 5*time.Second, zerolog.New(&bytes.Buffer{}))

	patch := map[string]interface{}{"status": "closed"}
	if err := b.Update(context.Background(), "tickets", patch, In("id", []string{"a", "b"})); err != nil {
		t.Fatalf("update: %v", err)
	}

	req := (*requests)[0]
	if req.method != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", req.method)
	}
	if got := req.query["id"]; len(got) != 1 || got[0] != `in.("a","b")` {
		t.Errorf("expected in filter, got %v", got)
	}
	if string(req.body) != `{"status":"closed"}` {
		t.Errorf("unexpected body %s", req.body)
	}
}

func TestPostgRESTRemoteError(t *testing.T) {
	server, _ := newPostgRESTServer(t, http.StatusBadRequest,
		`{"code":"PGRST100","message":"failed to parse filter","details":"unexpected token","hint":null}`)
	b := NewPostgRESTBackend(server.URL, "anon-key", 5*time.Second, zerolog.New(&bytes.Buffer{}))

	var rows []map[string]interface{}
	err := b.Select(context.Background(), "tickets", Query{}, &rows)

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected *RemoteError, got %T: %v", err, err)
	}
	if remoteErr.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", remoteErr.Status)
	}
	if remoteErr.Code != "PGRST100" {
		t.Errorf("expected code PGRST100, got %s", remoteErr.Code)
	}
	if remoteErr.Error() != "remote error 400 (PGRST100): failed to parse filter" {
		t.Errorf("unexpected error text %q", remoteErr.Error())
	}
}

func TestPostgRESTPlainTextError(t *testing.T) {
	server, _ := newPostgRESTServer(t, http.StatusServiceUnavailable, "upstream down")
	b := NewPostgRESTBackend(server.URL, "anon-key", 5*time.Second, zerolog.New(&bytes.Buffer{}))

	err := b.Insert(context.Background(), "tickets", map[string]string{"title": "x"})

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if remoteErr.Message != "upstream down" {
		t.Errorf("expected body as message, got %q", remoteErr.Message)
	}
}

func TestPostgRESTTransportError(t *testing.T) {
	server, _ := newPostgRESTServer(t, http.StatusOK, "[]")
	server.Close()
	b := NewPostgRESTBackend(server.URL, "anon-key", time.Second, zerolog.New(&bytes.Buffer{}))

	var rows []map[string]interface{}
	err := b.Select(context.Background(), "tickets", Query{}, &rows)
	if err == nil {
		t.Fatal("expected transport error")
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		t.Errorf("expected transport error, not a remote error: %v", err)
	}
}

func TestPostgRESTSubscribeWithoutRealtime(t *testing.T) {
	b := NewPostgRESTBackend("http://localhost", "anon-key", time.Second, zerolog.New(&bytes.Buffer{}))

	received := 0
	sub, err := b.Subscribe(context.Background(), "tickets", EventAll, func(Change) { received++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Publish(Change{Table: "tickets", Type: EventUpdate})
	sub.Unsubscribe()
	b.Publish(Change{Table: "tickets", Type: EventUpdate})

	if received != 1 {
		t.Errorf("expected 1 delivery, got %d", received)
	}
}

func TestFilterValue(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"eq string", Eq("status", "open"), "eq.open"},
		{"eq bool", Eq("is_read", false), "eq.false"},
		{"in", In("id", []string{"1", "2"}), `in.("1","2")`},
		{"in with quote", In("title", []string{`say "hi"`}), `in.("say \"hi\"")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterValue(tt.filter); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
