package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownTable is returned when a table is not part of the schema
	ErrUnknownTable = errors.New("unknown table")
	// ErrNotFound is returned when a row addressed by id does not exist
	ErrNotFound = errors.New("not found")
)

// Backend is the remote relational-table capability the console depends on.
// Any store offering select with ordering, filters and embedded relations,
// insert, batch update and a change feed can satisfy it.
type Backend interface {
	// Select reads rows of table into dest, which must be a pointer to a slice
	Select(ctx context.Context, table string, q Query, dest interface{}) error
	// Insert adds one row; identifiers and timestamps are assigned remotely
	Insert(ctx context.Context, table string, row interface{}) error
	// Update applies patch to every row matching f
	Update(ctx context.Context, table string, patch map[string]interface{}, f Filter) error
	// Subscribe registers fn for change notifications on table
	Subscribe(ctx context.Context, table string, event ChangeEvent, fn ChangeHandler) (Subscription, error)
	// Close releases connections held by the backend
	Close() error
}

// Publisher accepts change notifications from outside the backend, such as
// database webhooks
type Publisher interface {
	Publish(change Change) int
}

// Order describes a sort column
type Order struct {
	Column    string
	Ascending bool
}

// Embed describes a to-one relation joined into each row at read time
type Embed struct {
	Alias      string   // key the related object is stored under
	Table      string   // related table
	ForeignKey string   // column of the base row holding the related id
	Columns    []string // related columns to include
}

// Filter operators
const (
	OpEq = "eq"
	OpIn = "in"
)

// Filter restricts the rows a query or update touches
type Filter struct {
	Column string
	Op     string
	Value  interface{} // OpEq
	Values []string    // OpIn
}

// Eq matches rows whose column equals v
func Eq(column string, v interface{}) Filter {
	return Filter{Column: column, Op: OpEq, Value: v}
}

// In matches rows whose column is one of values
func In(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Values: values}
}

// Query describes a read
type Query struct {
	Columns []string // empty selects every column
	Embeds  []Embed
	Filters []Filter
	Order   *Order
	Limit   int
}

// NewestFirst orders rows by created_at descending
func NewestFirst() *Order {
	return &Order{Column: "created_at", Ascending: false}
}

// ChangeEvent is the kind of row change a subscription listens for
type ChangeEvent string

const (
	EventInsert ChangeEvent = "INSERT"
	EventUpdate ChangeEvent = "UPDATE"
	EventDelete ChangeEvent = "DELETE"
	EventAll    ChangeEvent = "*"
)

// Matches reports whether a subscription for e receives a change of type t
func (e ChangeEvent) Matches(t ChangeEvent) bool {
	return e == EventAll || e == t
}

// Change is a row change reported by the remote store
type Change struct {
	Table           string                 `json:"table"`
	Type            ChangeEvent            `json:"type"`
	Record          map[string]interface{} `json:"record,omitempty"`
	OldRecord       map[string]interface{} `json:"old_record,omitempty"`
	CommitTimestamp time.Time              `json:"commit_timestamp"`
}

// ChangeHandler receives change notifications
type ChangeHandler func(Change)

// Subscription is a live change-notification registration
type Subscription interface {
	Unsubscribe() error
}

// RemoteError is an error reported by the remote store itself, as opposed to
// a transport failure
type RemoteError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "remote request failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("remote error %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("remote error %d: %s", e.Status, msg)
}
