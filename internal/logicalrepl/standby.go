package logicalrepl

import (
	"context"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultHeartbeatInterval is the recurring keepalive-reply cadence of
// spec.md §4.2 ("≤ 10s regardless").
const DefaultHeartbeatInterval = 10 * time.Second

// sendStatusUpdate reports lastAcked as written/flushed/applied, matching
// spec.md §6's "client-to-server replies" contract: the ingestor only ever
// reports positions the publishing queue has actually acknowledged, never
// the raw stream-read position, so the server cannot reclaim WAL past data
// Hermes hasn't delivered yet.
func sendStatusUpdate(ctx context.Context, conn *pgconn.PgConn, lastAcked pglogrepl.LSN) error {
	return pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lastAcked,
		WALFlushPosition: lastAcked,
		WALApplyPosition: lastAcked,
		ClientTime:       time.Now(),
	})
}
