package datasync

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
)

func TestExportAgents(t *testing.T) {
	fb := newFakeBackend()
	err := fb.Seed("agents",
		map[string]interface{}{"id": "ag1", "name": "Dana", "email": "dana@desk.test", "role": "agent", "status": "online", "performance_score": 91.5, "total_resolved": 40, "created_at": baseTime.Add(-3 * time.Hour), "updated_at": baseTime},
		map[string]interface{}{"id": "ag2", "name": `Lee "Ace" Park`, "email": "lee@desk.test", "role": "supervisor", "status": "busy", "performance_score": 88, "total_resolved": 12, "created_at": baseTime.Add(-2 * time.Hour), "updated_at": baseTime},
		map[string]interface{}{"id": "ag3", "name": "Sam, Jr.", "email": "sam@desk.test", "role": "admin", "status": "offline", "performance_score": 0, "total_resolved": 0, "created_at": baseTime.Add(-1 * time.Hour), "updated_at": baseTime},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, notifier, _ := newTestStore(t, fb)
	ctx := context.Background()

	if err := s.FetchAgents(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	selectsBefore := fb.selectCount("agents")

	exp, err := s.ExportData(ctx, types.CollectionAgents)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	s.Wait()

	if exp.Filename != "agents_export_2024-05-01.csv" {
		t.Errorf("unexpected filename %s", exp.Filename)
	}
	if exp.Rows != 3 {
		t.Errorf("expected 3 rows, got %d", exp.Rows)
	}
	if fb.selectCount("agents") != selectsBefore {
		t.Error("expected export to use the cache without refetching")
	}

	lines := strings.Split(string(exp.Data), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 lines, got %d:\n%s", len(lines), exp.Data)
	}
	wantHeader := "id,name,email,role,status,performance_score,total_resolved,created_at,updated_at"
	if lines[0] != wantHeader {
		t.Errorf("unexpected header %q", lines[0])
	}
	if strings.HasSuffix(string(exp.Data), "\n") {
		t.Error("expected no trailing newline")
	}

	records, err := csv.NewReader(strings.NewReader(string(exp.Data))).ReadAll()
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	// Newest first: ag3, ag2, ag1
	if records[1][1] != "Sam, Jr." || records[2][1] != `Lee "Ace" Park` {
		t.Errorf("expected names to round-trip, got %q and %q", records[1][1], records[2][1])
	}
	if records[3][5] != "91.5" || records[3][6] != "40" {
		t.Errorf("expected bare numbers, got %q and %q", records[3][5], records[3][6])
	}
	if !strings.Contains(lines[1], `"Sam, Jr."`) {
		t.Errorf("expected strings quoted, got %s", lines[1])
	}

	if notifier.count(types.ToastSuccess) != 1 {
		t.Errorf("expected one success toast, got %d", notifier.count(types.ToastSuccess))
	}
	if got := auditActions(fb); len(got) != 1 || got[0] != "data_exported" {
		t.Errorf("unexpected audit entries %v", got)
	}
}

func TestExportEmptyCollection(t *testing.T) {
	s, _, _ := newTestStore(t, newFakeBackend())

	exp, err := s.ExportData(context.Background(), types.CollectionTemplates)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exp.Data) != 0 || exp.Rows != 0 {
		t.Errorf("expected empty document, got %q", exp.Data)
	}
	if exp.ContentType != "text/csv; charset=utf-8" {
		t.Errorf("unexpected content type %s", exp.ContentType)
	}
}

func TestExportUnknownKind(t *testing.T) {
	s, notifier, _ := newTestStore(t, newFakeBackend())

	_, err := s.ExportData(context.Background(), types.Collection("calls"))
	if !errors.Is(err, storage.ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
	if notifier.count(types.ToastError) != 1 {
		t.Errorf("expected one error toast, got %d", notifier.count(types.ToastError))
	}
}

func TestEncodeCSV(t *testing.T) {
	type row struct {
		ID      string                 `json:"id"`
		Note    *string                `json:"note"`
		Score   float64                `json:"score"`
		Active  bool                   `json:"active"`
		Details map[string]interface{} `json:"details"`
		Tags    []string               `json:"tags"`
	}
	note := `says "hi"`
	items := []row{
		{ID: "r1", Note: &note, Score: 4.5, Active: true, Details: map[string]interface{}{"k": "v"}, Tags: []string{"x", "y"}},
		{ID: "r2", Score: 0, Active: false},
	}

	data, n, err := encodeCSV(items)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}

	want := strings.Join([]string{
		"id,note,score,active,details,tags",
		`"r1","says ""hi""",4.5,true,"{""k"":""v""}","[""x"",""y""]"`,
		`"r2",,0,false,,`,
	}, "\n")
	if string(data) != want {
		t.Errorf("unexpected CSV:\n%s\nwant:\n%s", data, want)
	}
}

func TestEncodeCSVMissingFields(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"a":1,"b":"x"}`),
		json.RawMessage(`{"b":"y","c":true}`),
	}

	data, _, err := encodeCSV(raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "a,b\n1,\"x\"\n,\"y\""
	if string(data) != want {
		t.Errorf("expected header from first row only, got %q", data)
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{``, ``},
		{`null`, ``},
		{`"plain"`, `"plain"`},
		{`"a,b"`, `"a,b"`},
		{`"line\nbreak"`, "\"line\nbreak\""},
		{`12`, `12`},
		{`-0.25`, `-0.25`},
		{`false`, `false`},
		{`{ "a" : [1, 2] }`, `"{""a"":[1,2]}"`},
	}

	for _, tt := range tests {
		got, err := formatCell(json.RawMessage(tt.in))
		if err != nil {
			t.Errorf("formatCell(%s): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("formatCell(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestExportTicketsKeepsJoinColumns(t *testing.T) {
	fb := newFakeBackend()
	seedTicketFixtures(t, fb)
	err := fb.Seed("tickets",
		map[string]interface{}{"id": "z", "title": "New laptop", "status": "open", "priority": "medium", "customer_id": "c1", "created_at": baseTime},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, _, _ := newTestStore(t, fb)
	ctx := context.Background()

	if err := s.FetchTickets(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	exp, err := s.ExportData(ctx, types.CollectionTickets)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	s.Wait()

	records, err := csv.NewReader(strings.NewReader(string(exp.Data))).ReadAll()
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(records))
	}

	header := records[0]
	last := len(header) - 1
	if header[last-1] != "customer" || header[last] != "agent" {
		t.Fatalf("expected customer and agent columns, got %v", header)
	}

	// Newest first: z (unassigned), b (assigned to Dana), a
	if records[1][0] != "z" || records[1][last] != "" {
		t.Errorf("expected empty agent cell for z, got %q", records[1][last])
	}
	if records[2][0] != "b" || !strings.Contains(records[2][last], "Dana") {
		t.Errorf("expected Dana in agent cell for b, got %q", records[2][last])
	}
}
