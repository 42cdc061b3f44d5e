// Package storepg is the PostgreSQL storage backend of spec.md §6: the
// primary/secondary outbox tables, the consumer-state row, and the
// migration and publication/slot bootstrap a log-backend consumer needs on
// start. Grounded on internal/storage/ddl.go's embed-and-split migrator and
// internal/store/postgres/postgres.go's plain database/sql DAO style.
package storepg

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hermesdb/hermes/internal/logicalrepl"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies schema.sql. Safe to call concurrently from multiple
// consumer starts: every statement is IF NOT EXISTS.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddlStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storepg: migrate: %w", err)
		}
	}
	return nil
}

func ddlStatements() []string {
	parts := strings.Split(schemaSQL, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// Bootstrap runs the table migration over the pooled *sql.DB and then, on a
// dedicated replication-mode connection, ensures the publication and slot
// exist — spec.md §4.6's "migrations must be safe under concurrent starts".
// replicationDSN must include replication=database.
func Bootstrap(ctx context.Context, db *sql.DB, replicationDSN, publication, slot string) error {
	if err := Migrate(ctx, db); err != nil {
		return err
	}

	conn, err := pgconn.Connect(ctx, replicationDSN)
	if err != nil {
		return fmt.Errorf("storepg: bootstrap: connect replication: %w", err)
	}
	defer conn.Close(context.Background())

	if err := logicalrepl.EnsurePublication(ctx, conn, publication, "primary_outbox"); err != nil {
		return err
	}
	if _, _, err := logicalrepl.EnsureSlot(ctx, conn, slot); err != nil {
		return err
	}
	return nil
}
