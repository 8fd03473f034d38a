package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// schemaStatements create the console tables for local development. Existing
// tables are left untouched.
var schemaStatements = []struct {
	name string
	sql  string
}{
	{"pgcrypto", `CREATE EXTENSION IF NOT EXISTS pgcrypto`},
	{"customers", `CREATE TABLE IF NOT EXISTS customers (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL,
		email text NOT NULL,
		phone text,
		company text,
		plan text NOT NULL DEFAULT 'free',
		satisfaction_score double precision NOT NULL DEFAULT 0,
		total_tickets integer NOT NULL DEFAULT 0,
		avatar_url text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`},
	{"agents", `CREATE TABLE IF NOT EXISTS agents (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL,
		email text NOT NULL,
		role text NOT NULL DEFAULT 'agent',
		status text NOT NULL DEFAULT 'offline',
		performance_score double precision NOT NULL DEFAULT 0,
		total_resolved integer NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`},
	{"tickets", `CREATE TABLE IF NOT EXISTS tickets (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		title text NOT NULL,
		description text,
		status text NOT NULL DEFAULT 'open',
		priority text NOT NULL DEFAULT 'medium',
		category text NOT NULL DEFAULT 'general',
		customer_id uuid NOT NULL REFERENCES customers(id),
		agent_id uuid REFERENCES agents(id),
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		resolved_at timestamptz,
		satisfaction_rating integer
	)`},
	{"notifications", `CREATE TABLE IF NOT EXISTS notifications (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		title text NOT NULL,
		message text NOT NULL,
		type text NOT NULL DEFAULT 'info',
		is_read boolean NOT NULL DEFAULT false,
		user_id text,
		created_at timestamptz NOT NULL DEFAULT now()
	)`},
	{"system_logs", `CREATE TABLE IF NOT EXISTS system_logs (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		action text NOT NULL,
		details jsonb,
		user_id text,
		ip_address text,
		created_at timestamptz NOT NULL DEFAULT now()
	)`},
	{"templates", `CREATE TABLE IF NOT EXISTS templates (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL,
		subject text NOT NULL,
		content text NOT NULL,
		type text NOT NULL DEFAULT 'general',
		is_active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`},
	{"automations", `CREATE TABLE IF NOT EXISTS automations (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		name text NOT NULL,
		trigger_type text NOT NULL,
		conditions jsonb,
		actions jsonb,
		is_active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`},
	{"notify function", `CREATE OR REPLACE FUNCTION supportdesk_notify_change() RETURNS trigger AS $$
	DECLARE
		row_id text;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			row_id := OLD.id::text;
		ELSE
			row_id := NEW.id::text;
		END IF;
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
			'table', TG_TABLE_NAME,
			'type', TG_OP,
			'id', row_id
		)::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`},
}

// CreateTablesIfNotExist creates the console schema and installs the change
// notification trigger on every table
func CreateTablesIfNotExist(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
		logger.Debug().Str("object", stmt.name).Msg("schema object ready")
	}

	for _, table := range KnownTables {
		trigger := table + "_notify_change"
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table)); err != nil {
			return fmt.Errorf("failed to drop trigger on %s: %w", table, err)
		}
		_, err := pool.Exec(ctx, fmt.Sprintf(
			"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION supportdesk_notify_change()",
			trigger, table,
		))
		if err != nil {
			return fmt.Errorf("failed to create trigger on %s: %w", table, err)
		}
	}

	logger.Info().Int("tables", len(KnownTables)).Msg("schema ready")
	return nil
}
