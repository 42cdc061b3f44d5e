package logicalrepl

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
)

// EnsurePublication creates the publication covering the primary outbox
// table if it does not already exist. "already exists" is a non-error
// (spec.md §4.6: migrations must be safe under concurrent starts).
func EnsurePublication(ctx context.Context, conn *pgconn.PgConn, publication, table string) error {
	q := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", pgIdent(publication), table)
	result := conn.Exec(ctx, q)
	_, err := result.ReadAll()
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("logicalrepl: create publication %s: %w", publication, err)
	}
	return nil
}

// EnsureSlot creates the logical replication slot using the pgoutput
// plugin if it does not already exist, returning the slot's confirmed
// flush LSN as the starting position for a brand-new consumer.
func EnsureSlot(ctx context.Context, conn *pgconn.PgConn, slot string) (pglogrepl.LSN, bool, error) {
	res, err := pglogrepl.CreateReplicationSlot(ctx, conn, slot, "pgoutput", pglogrepl.CreateReplicationSlotOptions{})
	if err != nil {
		if isAlreadyExists(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("logicalrepl: create slot %s: %w", slot, err)
	}
	lsn, err := pglogrepl.ParseLSN(res.ConsistentPoint)
	if err != nil {
		return 0, false, fmt.Errorf("logicalrepl: parse consistent point: %w", err)
	}
	return lsn, true, nil
}

// StartReplication opens the replication stream from startLSN using
// proto_version 1 against the named publication, matching spec.md §4.2's
// choice of logical replication v1.
func StartReplication(ctx context.Context, conn *pgconn.PgConn, slot string, startLSN pglogrepl.LSN, publication string) error {
	err := pglogrepl.StartReplication(ctx, conn, slot, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '1'",
			fmt.Sprintf("publication_names '%s'", publication),
		},
	})
	if err != nil {
		if isSlotActive(err) {
			return fmt.Errorf("%w: %v", ErrSlotActive, err)
		}
		return fmt.Errorf("logicalrepl: start replication: %w", err)
	}
	return nil
}

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if asPgError(err, &pgErr) {
		// 42710 duplicate_object (publication); replication slots surface
		// duplicate_object too.
		return pgErr.Code == "42710" || strings.Contains(pgErr.Message, "already exists")
	}
	return strings.Contains(err.Error(), "already exists")
}

func isSlotActive(err error) bool {
	var pgErr *pgconn.PgError
	if asPgError(err, &pgErr) {
		return pgErr.Code == "55006" || strings.Contains(pgErr.Message, "is active for PID")
	}
	return strings.Contains(err.Error(), "is active for PID")
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			*target = pgErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
