package storepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PrimaryOutbox writes rows into the table the replication slot streams
// from. It never reads: the ingestor is the only reader, via the
// replication protocol (spec.md §3 "Primary outbox row ... immutable
// thereafter").
type PrimaryOutbox struct{ db *sql.DB }

func NewPrimaryOutbox(db *sql.DB) *PrimaryOutbox { return &PrimaryOutbox{db: db} }

// OutboxMessage is one row to enqueue.
type OutboxMessage struct {
	MessageID   string
	MessageType string
	Data        json.RawMessage
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting Enqueue run
// inside a host-managed transaction when one is supplied (spec.md §3
// "using the supplied host-managed transaction when provided").
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Enqueue inserts msgs in order, preserving row-position order within the
// call (spec.md §3 "insertion order within a call is preserved in row
// position order"). tx may be nil, in which case a new transaction is
// opened and committed internally.
func (p *PrimaryOutbox) Enqueue(ctx context.Context, tx *sql.Tx, partitionKey string, msgs []OutboxMessage) error {
	var exec execer = p.db
	var owned *sql.Tx
	if tx != nil {
		exec = tx
	} else {
		t, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storepg: enqueue: begin: %w", err)
		}
		owned = t
		exec = t
	}

	for _, m := range msgs {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO primary_outbox (message_id, message_type, partition_key, data)
			VALUES ($1, $2, $3, $4)
		`, m.MessageID, m.MessageType, partitionKey, []byte(m.Data))
		if err != nil {
			if owned != nil {
				_ = owned.Rollback()
			}
			return fmt.Errorf("storepg: enqueue: insert: %w", err)
		}
	}

	if owned != nil {
		if err := owned.Commit(); err != nil {
			return fmt.Errorf("storepg: enqueue: commit: %w", err)
		}
	}
	return nil
}
