package storepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hermesdb/hermes/internal/position"
)

// startPG boots a disposable Postgres for the duration of one test, the way
// internal/storage/spanner_test.go boots the Spanner emulator.
func startPG(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("hermes"),
		postgres.WithUsername("hermes"),
		postgres.WithPassword("hermes"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, waitReady(ctx, db))
	require.NoError(t, Migrate(ctx, db))
	return db
}

func waitReady(ctx context.Context, db *sql.DB) error {
	deadline := time.Now().Add(10 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func TestPrimaryOutbox_EnqueuePreservesRowOrder(t *testing.T) {
	db := startPG(t)
	ctx := context.Background()
	po := NewPrimaryOutbox(db)

	msgs := []OutboxMessage{
		{MessageID: "m1", MessageType: "X", Data: json.RawMessage(`{"v":1}`)},
		{MessageID: "m2", MessageType: "X", Data: json.RawMessage(`{"v":2}`)},
	}
	require.NoError(t, po.Enqueue(ctx, nil, "default", msgs))

	rows, err := db.QueryContext(ctx, `SELECT message_id FROM primary_outbox ORDER BY position ASC`)
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.Equal(t, []string{"m1", "m2"}, ids)
}

func TestConsumerState_LoadSeedsThenAdvanceResetsRedelivery(t *testing.T) {
	db := startPG(t)
	ctx := context.Background()
	cs := NewConsumerState(db, "hermes-test", "default")

	tok, redelivery, err := cs.Load(ctx)
	require.NoError(t, err)
	require.True(t, tok.IsZero())
	require.Equal(t, 0, redelivery)

	require.NoError(t, cs.RecordRetry(ctx, 2))
	_, redelivery, err = cs.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, redelivery)

	require.NoError(t, cs.Advance(ctx, position.Token("0/16B3748")))
	tok, redelivery, err = cs.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, position.Token("0/16B3748"), tok)
	require.Equal(t, 0, redelivery)
}

func TestSecondaryOutbox_LeaseMarkDoneAndFailed(t *testing.T) {
	db := startPG(t)
	ctx := context.Background()
	so := NewSecondaryOutbox(db, "aux")

	require.NoError(t, so.Send(ctx, nil, OutboxMessage{
		MessageID: "c1", MessageType: "Compensate", Data: json.RawMessage(`{"x":1}`),
	}))

	rows, err := so.LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "c1", rows[0].MessageID)
	require.Equal(t, 0, rows[0].FailsCount)
	require.NoError(t, so.MarkDone(ctx, rows[0].Position))

	rows, err = so.LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, rows, "delivered rows must not be re-leased")
}

func TestPrimaryOutbox_EnqueueRollsBackWithHostTransaction(t *testing.T) {
	db := startPG(t)
	ctx := context.Background()
	po := NewPrimaryOutbox(db)
	so := NewSecondaryOutbox(db, "aux")

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, po.Enqueue(ctx, tx, "default", []OutboxMessage{
		{MessageID: "aborted-1", MessageType: "X", Data: json.RawMessage(`{}`)},
	}))
	require.NoError(t, so.Send(ctx, tx, OutboxMessage{
		MessageID: "aborted-2", MessageType: "Compensate", Data: json.RawMessage(`{}`),
	}))
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM primary_outbox WHERE message_id='aborted-1'`).Scan(&count))
	require.Zero(t, count, "rolled-back host transaction must leave no primary outbox row")

	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM secondary_outbox WHERE message_id='aborted-2'`).Scan(&count))
	require.Zero(t, count, "rolled-back host transaction must leave no secondary outbox row")
}
