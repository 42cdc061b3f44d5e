package storepg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hermesdb/hermes/internal/position"
)

// ConsumerState is the position store of spec.md §3: one row per
// (consumerName, partitionKey), holding the last-acknowledged source
// position token and the redelivery counter for the oldest unacknowledged
// transaction.
type ConsumerState struct {
	db           *sql.DB
	consumerName string
	partitionKey string
}

func NewConsumerState(db *sql.DB, consumerName, partitionKey string) *ConsumerState {
	return &ConsumerState{db: db, consumerName: consumerName, partitionKey: partitionKey}
}

// Load returns the persisted token and redelivery counter, inserting a
// fresh zero-value row on first use so later updates can be plain UPDATEs.
func (c *ConsumerState) Load(ctx context.Context) (position.Token, int, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT last_acked_token, redelivery_count
		FROM consumer_state WHERE consumer_name=$1 AND partition_key=$2
	`, c.consumerName, c.partitionKey)

	var tok string
	var redelivery int
	err := row.Scan(&tok, &redelivery)
	switch {
	case err == sql.ErrNoRows:
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO consumer_state (consumer_name, partition_key)
			VALUES ($1, $2)
			ON CONFLICT (consumer_name, partition_key) DO NOTHING
		`, c.consumerName, c.partitionKey)
		if err != nil {
			return position.Zero, 0, fmt.Errorf("storepg: consumer state: seed row: %w", err)
		}
		return position.Zero, 0, nil
	case err != nil:
		return position.Zero, 0, fmt.Errorf("storepg: consumer state: load: %w", err)
	}
	return position.Token(tok), redelivery, nil
}

// Advance persists a new acknowledged token and resets the redelivery
// counter to 0 — spec.md §3's "redelivery counter resets to 0 on a
// successful advance".
func (c *ConsumerState) Advance(ctx context.Context, tok position.Token) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE consumer_state
		SET last_acked_token=$1, redelivery_count=0, updated_at=now()
		WHERE consumer_name=$2 AND partition_key=$3
	`, tok.String(), c.consumerName, c.partitionKey)
	if err != nil {
		return fmt.Errorf("storepg: consumer state: advance: %w", err)
	}
	return nil
}

// RecordRetry persists the bumped redelivery counter for the
// still-unacknowledged oldest transaction, ahead of the next publish
// attempt (spec.md §4.4).
func (c *ConsumerState) RecordRetry(ctx context.Context, attempt int) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE consumer_state
		SET redelivery_count=$1, updated_at=now()
		WHERE consumer_name=$2 AND partition_key=$3
	`, attempt, c.consumerName, c.partitionKey)
	if err != nil {
		return fmt.Errorf("storepg: consumer state: record retry: %w", err)
	}
	return nil
}
