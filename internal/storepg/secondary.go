package storepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// leaseDuration bounds how long a claimed row stays invisible to other
// ticks, in lieu of holding a row lock open across the user's publish
// callback — the lease column lets internal/auxiliary treat Postgres and
// MongoDB identically, unlike internal/outbox/worker.go's single
// transaction held open for the whole handle-and-mark cycle.
const leaseDuration = time.Minute

// SecondaryRow is one leased pending row of the auxiliary polling queue
// (spec.md §3 "Secondary outbox row").
type SecondaryRow struct {
	Position    int64
	MessageID   string
	MessageType string
	Data        json.RawMessage
	FailsCount  int
}

// SecondaryOutbox is the DAO backing the auxiliary consumer, grounded on
// internal/outbox/worker.go's lease/mark-done/mark-failed polling loop,
// generalized from that worker's fixed "apply to vector index" semantics
// to an opaque publish callback.
type SecondaryOutbox struct {
	db           *sql.DB
	consumerName string
}

func NewSecondaryOutbox(db *sql.DB, consumerName string) *SecondaryOutbox {
	return &SecondaryOutbox{db: db, consumerName: consumerName}
}

// Send inserts a new pending row (the `send` API of spec.md §3). tx may be
// nil, in which case the insert runs directly against the pool; when
// non-nil, Send participates in the caller's host-managed transaction, the
// same atomicity contract Enqueue gives the primary outbox (spec.md §4.5
// "same atomicity semantics as primary enqueue").
func (s *SecondaryOutbox) Send(ctx context.Context, tx *sql.Tx, msg OutboxMessage) error {
	var exec execer = s.db
	if tx != nil {
		exec = tx
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO secondary_outbox (consumer_name, message_id, message_type, data)
		VALUES ($1, $2, $3, $4)
	`, s.consumerName, msg.MessageID, msg.MessageType, []byte(msg.Data))
	if err != nil {
		return fmt.Errorf("storepg: secondary send: %w", err)
	}
	return nil
}

// LeaseBatch atomically claims up to n undelivered, unleased rows ordered
// by added_at, using FOR UPDATE SKIP LOCKED inside a per-row transaction so
// concurrent ticks (or replicas) never double-claim the same row, then
// stamps lease_until so the claim survives past that transaction.
func (s *SecondaryOutbox) LeaseBatch(ctx context.Context, n int) ([]SecondaryRow, error) {
	now := time.Now().UTC()
	leaseExpiry := now.Add(leaseDuration)

	var out []SecondaryRow
	for len(out) < n {
		row, ok, err := s.claimOne(ctx, now, leaseExpiry)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *SecondaryOutbox) claimOne(ctx context.Context, now, leaseExpiry time.Time) (SecondaryRow, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SecondaryRow{}, false, fmt.Errorf("storepg: secondary lease: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var r SecondaryRow
	var data []byte
	err = tx.QueryRowContext(ctx, `
		SELECT position, message_id, message_type, data, fails_count
		FROM secondary_outbox
		WHERE consumer_name=$1 AND delivered=false AND (lease_until IS NULL OR lease_until < $2)
		ORDER BY added_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, s.consumerName, now).Scan(&r.Position, &r.MessageID, &r.MessageType, &data, &r.FailsCount)
	if err == sql.ErrNoRows {
		return SecondaryRow{}, false, nil
	}
	if err != nil {
		return SecondaryRow{}, false, fmt.Errorf("storepg: secondary lease: select: %w", err)
	}
	r.Data = data

	if _, err := tx.ExecContext(ctx, `UPDATE secondary_outbox SET lease_until=$1 WHERE position=$2`, leaseExpiry, r.Position); err != nil {
		return SecondaryRow{}, false, fmt.Errorf("storepg: secondary lease: claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SecondaryRow{}, false, fmt.Errorf("storepg: secondary lease: commit: %w", err)
	}
	return r, true, nil
}

// MarkDone flips delivered=true and stamps sent_at.
func (s *SecondaryOutbox) MarkDone(ctx context.Context, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE secondary_outbox SET delivered=true, sent_at=$1, lease_until=NULL WHERE position=$2
	`, time.Now().UTC(), position)
	if err != nil {
		return fmt.Errorf("storepg: secondary mark done: %w", err)
	}
	return nil
}

// MarkFailed increments fails_count and releases the lease so the row is
// picked up again on the next tick.
func (s *SecondaryOutbox) MarkFailed(ctx context.Context, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE secondary_outbox SET fails_count = fails_count + 1, lease_until=NULL WHERE position=$1
	`, position)
	if err != nil {
		return fmt.Errorf("storepg: secondary mark failed: %w", err)
	}
	return nil
}
