package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tablesWithUpdatedAt carry an updated_at column maintained by the store
var tablesWithUpdatedAt = map[string]bool{
	"customers":   true,
	"agents":      true,
	"tickets":     true,
	"templates":   true,
	"automations": true,
}

// KnownTables lists the schema served by the in-memory backend
var KnownTables = []string{
	"customers",
	"agents",
	"tickets",
	"notifications",
	"system_logs",
	"templates",
	"automations",
}

// MemoryBackend implements Backend in process. Rows are kept as JSON objects
// so reads behave like a remote round-trip.
type MemoryBackend struct {
	tables map[string][]map[string]interface{}
	bus    *ChangeBus
	now    func() time.Time
	mu     sync.RWMutex
}

// NewMemoryBackend creates a backend with every known table empty
func NewMemoryBackend() *MemoryBackend {
	tables := make(map[string][]map[string]interface{}, len(KnownTables))
	for _, t := range KnownTables {
		tables[t] = make([]map[string]interface{}, 0)
	}
	return &MemoryBackend{
		tables: tables,
		bus:    NewChangeBus(),
		now:    time.Now,
	}
}

// SetClock overrides the clock used for server-assigned timestamps
func (m *MemoryBackend) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Seed stores rows verbatim without publishing change notifications. Rows
// without an id or created_at get server defaults.
func (m *MemoryBackend) Seed(table string, rows ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	for _, row := range rows {
		obj, err := toObject(row)
		if err != nil {
			return err
		}
		m.assignDefaults(table, obj)
		m.tables[table] = append(m.tables[table], obj)
	}
	return nil
}

// Rows returns a copy of every stored row of table, in insertion order
func (m *MemoryBackend) Rows(table string) []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		out = append(out, cloneObject(row))
	}
	return out
}

func (m *MemoryBackend) Select(ctx context.Context, table string, q Query, dest interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	rows, ok := m.tables[table]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	result := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if matchesAll(row, q.Filters) {
			result = append(result, m.project(row, q))
		}
	}
	m.mu.RUnlock()

	if q.Order != nil {
		col, asc := q.Order.Column, q.Order.Ascending
		sort.SliceStable(result, func(i, j int) bool {
			c := compareValues(result[i][col], result[j][col])
			if asc {
				return c < 0
			}
			return c > 0
		})
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode rows: %w", err)
	}
	return nil
}

func (m *MemoryBackend) Insert(ctx context.Context, table string, row interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj, err := toObject(row)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.tables[table]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	m.assignDefaults(table, obj)
	m.tables[table] = append(m.tables[table], obj)
	now := m.now()
	m.mu.Unlock()

	m.bus.Publish(Change{Table: table, Type: EventInsert, Record: cloneObject(obj), CommitTimestamp: now})
	return nil
}

func (m *MemoryBackend) Update(ctx context.Context, table string, patch map[string]interface{}, f Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, err := toObject(patch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rows, ok := m.tables[table]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	var changes []Change
	now := m.now()
	for _, row := range rows {
		if !matches(row, f) {
			continue
		}
		old := cloneObject(row)
		for k, v := range normalized {
			row[k] = v
		}
		changes = append(changes, Change{
			Table:           table,
			Type:            EventUpdate,
			Record:          cloneObject(row),
			OldRecord:       old,
			CommitTimestamp: now,
		})
	}
	m.mu.Unlock()

	for _, c := range changes {
		m.bus.Publish(c)
	}
	return nil
}

// Delete removes rows matching f and publishes a DELETE notification for each
func (m *MemoryBackend) Delete(ctx context.Context, table string, f Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	rows, ok := m.tables[table]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	kept := rows[:0]
	var changes []Change
	now := m.now()
	for _, row := range rows {
		if matches(row, f) {
			changes = append(changes, Change{Table: table, Type: EventDelete, OldRecord: row, CommitTimestamp: now})
			continue
		}
		kept = append(kept, row)
	}
	m.tables[table] = kept
	m.mu.Unlock()

	for _, c := range changes {
		m.bus.Publish(c)
	}
	return nil
}

func (m *MemoryBackend) Subscribe(_ context.Context, table string, event ChangeEvent, fn ChangeHandler) (Subscription, error) {
	m.mu.RLock()
	_, ok := m.tables[table]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	sub, _ := m.bus.Subscribe(table, event, fn)
	return sub, nil
}

// Publish injects an external change notification
func (m *MemoryBackend) Publish(change Change) int {
	return m.bus.Publish(change)
}

// Subscribers returns the number of live subscriptions on table
func (m *MemoryBackend) Subscribers(table string) int {
	return m.bus.Count(table)
}

func (m *MemoryBackend) Close() error { return nil }

// assignDefaults fills server-assigned columns. Caller holds m.mu.
func (m *MemoryBackend) assignDefaults(table string, obj map[string]interface{}) {
	if id, ok := obj["id"].(string); !ok || id == "" {
		obj["id"] = uuid.New().String()
	}
	now := m.now().UTC().Format(time.RFC3339Nano)
	if _, ok := obj["created_at"]; !ok {
		obj["created_at"] = now
	}
	if _, ok := obj["updated_at"]; !ok && tablesWithUpdatedAt[table] {
		obj["updated_at"] = now
	}
}

// project applies column selection and embeds. Caller holds m.mu.
func (m *MemoryBackend) project(row map[string]interface{}, q Query) map[string]interface{} {
	var out map[string]interface{}
	if len(q.Columns) == 0 {
		out = cloneObject(row)
	} else {
		out = make(map[string]interface{}, len(q.Columns))
		for _, col := range q.Columns {
			if v, ok := row[col]; ok {
				out[col] = v
			}
		}
	}

	for _, e := range q.Embeds {
		out[e.Alias] = nil
		fk, ok := row[e.ForeignKey].(string)
		if !ok || fk == "" {
			continue
		}
		for _, related := range m.tables[e.Table] {
			if related["id"] != fk {
				continue
			}
			embedded := make(map[string]interface{}, len(e.Columns))
			for _, col := range e.Columns {
				embedded[col] = related[col]
			}
			out[e.Alias] = embedded
			break
		}
	}
	return out
}

func toObject(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("row must be a JSON object: %w", err)
	}
	if obj == nil {
		obj = make(map[string]interface{})
	}
	return obj, nil
}

func cloneObject(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

func matchesAll(row map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		if !matches(row, f) {
			return false
		}
	}
	return true
}

func matches(row map[string]interface{}, f Filter) bool {
	v := valueString(row[f.Column])
	switch f.Op {
	case OpEq:
		return v == valueString(f.Value)
	case OpIn:
		for _, candidate := range f.Values {
			if v == candidate {
				return true
			}
		}
	}
	return false
}

func valueString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// compareValues orders JSON scalars; RFC 3339 strings compare as instants
func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 1
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Compare(bt)
		}
		return strings.Compare(av, bv)
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
