package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NotifyChannel is the LISTEN/NOTIFY channel the change triggers publish on
const NotifyChannel = "supportdesk_changes"

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresBackend reads and writes the console tables directly through a pgx
// pool. Change notifications come from LISTEN on NotifyChannel.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	bus    *ChangeBus
	logger zerolog.Logger
}

// NewPostgresBackend connects to databaseURL and verifies the connection
func NewPostgresBackend(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresBackend, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := logger.With().Str("component", "postgres").Logger()
	l.Info().
		Int32("max_conns", poolConfig.MaxConns).
		Msg("connected to postgres")

	return &PostgresBackend{
		pool:   pool,
		bus:    NewChangeBus(),
		logger: l,
	}, nil
}

// Pool exposes the underlying pool for schema bootstrap
func (p *PostgresBackend) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresBackend) Select(ctx context.Context, table string, q Query, dest interface{}) error {
	sql, args, err := buildSelectSQL(table, q)
	if err != nil {
		return err
	}

	var raw []byte
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return nil
}

func (p *PostgresBackend) Insert(ctx context.Context, table string, row interface{}) error {
	obj, err := toObject(row)
	if err != nil {
		return err
	}
	sql, err := buildInsertSQL(table, sortedKeys(obj))
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	if _, err := p.pool.Exec(ctx, sql, string(data)); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (p *PostgresBackend) Update(ctx context.Context, table string, patch map[string]interface{}, f Filter) error {
	obj, err := toObject(patch)
	if err != nil {
		return err
	}
	sql, filterArg, err := buildUpdateSQL(table, sortedKeys(obj), f)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}

	if _, err := p.pool.Exec(ctx, sql, string(data), filterArg); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

func (p *PostgresBackend) Subscribe(_ context.Context, table string, event ChangeEvent, fn ChangeHandler) (Subscription, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	sub, _ := p.bus.Subscribe(table, event, fn)
	return sub, nil
}

// Publish injects a change notification received out of band
func (p *PostgresBackend) Publish(change Change) int {
	return p.bus.Publish(change)
}

// Run listens on NotifyChannel until ctx is done, reconnecting with backoff
func (p *PostgresBackend) Run(ctx context.Context) {
	reconnectDelay := initialReconnectDelay

	for {
		err := p.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("listen connection lost, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		reconnectDelay *= 2
		if reconnectDelay > maxReconnectDelay {
			reconnectDelay = maxReconnectDelay
		}
	}
}

func (p *PostgresBackend) listen(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	p.logger.Info().Str("channel", NotifyChannel).Msg("listening for changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var payload struct {
			Table string `json:"table"`
			Type  string `json:"type"`
			ID    string `json:"id"`
		}
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
			p.logger.Warn().Err(err).Str("payload", n.Payload).Msg("ignoring malformed notification")
			continue
		}

		change := Change{
			Table:           payload.Table,
			Type:            ChangeEvent(payload.Type),
			CommitTimestamp: time.Now(),
		}
		if payload.ID != "" {
			change.Record = map[string]interface{}{"id": payload.ID}
		}
		p.bus.Publish(change)
	}
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// buildSelectSQL renders q as one statement returning a JSON array
func buildSelectSQL(table string, q Query) (string, []interface{}, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	cols := []string{"b.*"}
	if len(q.Columns) > 0 {
		cols = cols[:0]
		for _, c := range q.Columns {
			qc, err := quoteIdent(c)
			if err != nil {
				return "", nil, err
			}
			cols = append(cols, "b."+qc)
		}
	}

	for _, e := range q.Embeds {
		alias, err := quoteIdent(e.Alias)
		if err != nil {
			return "", nil, err
		}
		related, err := quoteIdent(e.Table)
		if err != nil {
			return "", nil, err
		}
		fk, err := quoteIdent(e.ForeignKey)
		if err != nil {
			return "", nil, err
		}
		fields := make([]string, 0, len(e.Columns))
		for _, c := range e.Columns {
			qc, err := quoteIdent(c)
			if err != nil {
				return "", nil, err
			}
			fields = append(fields, fmt.Sprintf("'%s', r.%s", c, qc))
		}
		cols = append(cols, fmt.Sprintf(
			"(SELECT json_build_object(%s) FROM %s r WHERE r.id = b.%s) AS %s",
			strings.Join(fields, ", "), related, fk, alias,
		))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s b", strings.Join(cols, ", "), tbl)

	args := make([]interface{}, 0, len(q.Filters))
	for i, f := range q.Filters {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		clause, arg, err := filterClause("b", f, len(args)+1)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(clause)
		args = append(args, arg)
	}

	aggOrder := ""
	if q.Order != nil {
		oc, err := quoteIdent(q.Order.Column)
		if err != nil {
			return "", nil, err
		}
		dir := "DESC"
		if q.Order.Ascending {
			dir = "ASC"
		}
		fmt.Fprintf(&sb, " ORDER BY b.%s %s", oc, dir)
		aggOrder = fmt.Sprintf(" ORDER BY t.%s %s", oc, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	sql := fmt.Sprintf("SELECT COALESCE(json_agg(row_to_json(t)%s), '[]'::json) FROM (%s) t", aggOrder, sb.String())
	return sql, args, nil
}

// buildInsertSQL inserts only the given columns so remote defaults still apply
// to the rest. $1 is the row as a JSON object.
func buildInsertSQL(table string, columns []string) (string, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", tbl), nil
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		qc, err := quoteIdent(c)
		if err != nil {
			return "", err
		}
		quoted[i] = qc
	}
	list := strings.Join(quoted, ", ")
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM json_populate_record(NULL::%s, $1::json)",
		tbl, list, list, tbl,
	), nil
}

// buildUpdateSQL sets the given columns from $1 (a JSON object) on rows
// matching f, bound as $2
func buildUpdateSQL(table string, columns []string, f Filter) (string, interface{}, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("empty update for %s", table)
	}

	sets := make([]string, len(columns))
	for i, c := range columns {
		qc, err := quoteIdent(c)
		if err != nil {
			return "", nil, err
		}
		sets[i] = fmt.Sprintf("%s = r.%s", qc, qc)
	}

	clause, arg, err := filterClause(tbl, f, 2)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf(
		"UPDATE %s SET %s FROM json_populate_record(NULL::%s, $1::json) r WHERE %s",
		tbl, strings.Join(sets, ", "), tbl, clause,
	), arg, nil
}

// filterClause compares as text so uuid, enum and text columns share one path
func filterClause(prefix string, f Filter, n int) (string, interface{}, error) {
	col, err := quoteIdent(f.Column)
	if err != nil {
		return "", nil, err
	}
	switch f.Op {
	case OpEq:
		return fmt.Sprintf("%s.%s::text = $%d", prefix, col, n), valueString(f.Value), nil
	case OpIn:
		return fmt.Sprintf("%s.%s::text = ANY($%d)", prefix, col, n), f.Values, nil
	}
	return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
}

func sortedKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
