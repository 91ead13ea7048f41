package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// EventsTable stores every inbound channel event the recorder persists.
const EventsTable = "channel_events"

// schemaStatements create the recorder tables. Each is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS channel_events (
		id          BIGSERIAL PRIMARY KEY,
		kind        TEXT NOT NULL,
		event       TEXT NOT NULL,
		user_id     TEXT,
		latitude    DOUBLE PRECISION,
		longitude   DOUBLE PRECISION,
		payload     JSONB NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS channel_events_kind_received_idx
		ON channel_events (kind, received_at DESC)`,
	`CREATE INDEX IF NOT EXISTS channel_events_user_idx
		ON channel_events (user_id) WHERE user_id IS NOT NULL`,
}

// Execer runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the recorder tables and indexes if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
