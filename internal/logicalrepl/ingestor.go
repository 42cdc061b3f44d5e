package logicalrepl

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/rs/zerolog"
)

// Config configures a single streaming-replication session.
type Config struct {
	DSN               string // must include replication=database
	Publication       string
	Slot              string
	PartitionKey      string
	Columns           ColumnTypeDescriptor
	HeartbeatInterval time.Duration
}

// Ingestor owns one live replication connection and the relation cache
// built up from Relation messages on that connection — reader-task-local
// state per spec.md §5.
type Ingestor struct {
	cfg Config
	ack *AckPosition
	log zerolog.Logger

	relations map[uint32]*pglogrepl.RelationMessage
}

// New constructs an Ingestor. ack is shared with the consumer's publishing
// queue so the heartbeat task always reports the true acknowledged
// position, never merely the position read off the wire.
func New(cfg Config, ack *AckPosition, log zerolog.Logger) *Ingestor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Columns == nil {
		cfg.Columns = DefaultColumns()
	}
	return &Ingestor{cfg: cfg, ack: ack, log: log, relations: map[uint32]*pglogrepl.RelationMessage{}}
}

// openTxn accumulates Insert rows between a Begin and its matching Commit.
type openTxn struct {
	xid      string
	finalLSN pglogrepl.LSN
	rows     []Row
}

// Run opens a fresh replication connection starting at the ingestor's
// current acknowledged position, decodes frames until ctx is canceled or a
// fatal/transport error occurs, and emits one Batch per committed
// transaction via out. Run returning a logicalrepl.IsProtocolError(err)==true
// error is fatal to this session; any other error is a transport failure —
// both are handled identically by the caller, which reconnects after a
// backoff starting from the last acknowledged position (spec.md §4.2).
func (g *Ingestor) Run(ctx context.Context, out chan<- Batch) error {
	conn, startLSN, err := g.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return g.Stream(ctx, conn, startLSN, out)
}

// Dial opens the replication connection and issues START_REPLICATION,
// returning a connection ready for Stream and the LSN streaming began at.
// Split out from Run so a caller (the consumer's Start method) can detect
// ErrSlotActive synchronously before committing to a long-lived background
// session — spec.md §4.1's "start... fails with ConsumerAlreadyTaken".
func (g *Ingestor) Dial(ctx context.Context) (*pgconn.PgConn, pglogrepl.LSN, error) {
	conn, err := pgconn.Connect(ctx, g.cfg.DSN)
	if err != nil {
		return nil, 0, fmt.Errorf("logicalrepl: connect: %w", err)
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		conn.Close(context.Background())
		return nil, 0, fmt.Errorf("logicalrepl: identify system: %w", err)
	}

	startLSN := g.ack.Load()
	if startLSN == 0 {
		startLSN = sysident.XLogPos
	}

	if err := StartReplication(ctx, conn, g.cfg.Slot, startLSN, g.cfg.Publication); err != nil {
		conn.Close(context.Background())
		return nil, 0, err
	}
	g.log.Info().Str("slot", g.cfg.Slot).Str("start", startLSN.String()).Msg("replication stream started")
	return conn, startLSN, nil
}

// Stream runs the decode loop over an already-dialed connection until ctx
// is canceled or a fatal/transport error occurs.
func (g *Ingestor) Stream(ctx context.Context, conn *pgconn.PgConn, startLSN pglogrepl.LSN, out chan<- Batch) error {
	clientXLogPos := startLSN
	var open *openTxn
	nextHeartbeat := time.Now().Add(g.cfg.HeartbeatInterval)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !time.Now().Before(nextHeartbeat) {
			if err := sendStatusUpdate(ctx, conn, g.ack.Load()); err != nil {
				return fmt.Errorf("logicalrepl: standby status update: %w", err)
			}
			nextHeartbeat = time.Now().Add(g.cfg.HeartbeatInterval)
		}

		recvCtx, cancel := context.WithDeadline(ctx, nextHeartbeat)
		rawMsg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("logicalrepl: receive message: %w", err)
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("logicalrepl: server error: %s", errMsg.Message)
		}

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		if len(msg.Data) == 0 {
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("%w: keepalive: %v", errProtocol, err)
			}
			if pkm.ServerWALEnd > clientXLogPos {
				clientXLogPos = pkm.ServerWALEnd
			}
			if pkm.ReplyRequested {
				nextHeartbeat = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("%w: xlogdata: %v", errProtocol, err)
			}
			if err := g.handleXLogData(ctx, xld, &open, out); err != nil {
				return err
			}
			if xld.WALStart > clientXLogPos {
				clientXLogPos = xld.WALStart
			}

		default:
			return fmt.Errorf("%w: unrecognized top-level frame byte %q", errProtocol, msg.Data[0])
		}
	}
}

func (g *Ingestor) handleXLogData(ctx context.Context, xld pglogrepl.XLogData, open **openTxn, out chan<- Batch) error {
	logicalMsg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		return fmt.Errorf("%w: %v", errProtocol, err)
	}

	switch m := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		g.relations[m.RelationID] = m

	case *pglogrepl.BeginMessage:
		*open = &openTxn{xid: fmt.Sprintf("%d", m.Xid), finalLSN: m.FinalLSN}

	case *pglogrepl.InsertMessage:
		if *open == nil {
			return fmt.Errorf("%w: insert before begin", errProtocol)
		}
		rel, ok := g.relations[m.RelationID]
		if !ok {
			return fmt.Errorf("%w: insert references unknown relation %d", errProtocol, m.RelationID)
		}
		row, ok, err := g.decodeRow(rel, m.Tuple)
		if err != nil {
			return err
		}
		if ok && row.PartitionKey == g.cfg.PartitionKey {
			(*open).rows = append((*open).rows, row)
		}

	case *pglogrepl.CommitMessage:
		if *open == nil {
			return fmt.Errorf("%w: commit without begin", errProtocol)
		}
		txn := *open
		*open = nil
		if len(txn.rows) == 0 {
			// Transaction committed other partitions' rows only; nothing
			// for this ingestor to emit, so no batch is sent.
			return nil
		}
		batch := Batch{
			TransactionID:  txn.xid,
			CommitPosition: m.CommitLSN,
			CommitTime:     m.CommitTime,
			Rows:           txn.rows,
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}

	case *pglogrepl.UpdateMessage, *pglogrepl.DeleteMessage, *pglogrepl.TruncateMessage,
		*pglogrepl.TypeMessage, *pglogrepl.OriginMessage:
		// Parsed enough to know their shape but not emitted, per spec.md
		// §4.2: the primary outbox is insert-only and immutable.

	default:
		g.log.Debug().Str("type", fmt.Sprintf("%T", m)).Msg("ignoring unrecognized logical message")
	}
	return nil
}

func (g *Ingestor) decodeRow(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) (Row, bool, error) {
	fields, err := decodeTuple(rel, tuple, g.cfg.Columns)
	if err != nil {
		return Row{}, false, err
	}
	pos, err := int64Column(fields, "position")
	if err != nil {
		return Row{}, false, err
	}
	msgID, err := stringColumn(fields, "message_id")
	if err != nil {
		return Row{}, false, err
	}
	msgType, err := stringColumn(fields, "message_type")
	if err != nil {
		return Row{}, false, err
	}
	partKey, err := stringColumn(fields, "partition_key")
	if err != nil {
		return Row{}, false, err
	}
	payload, err := bytesColumn(fields, "data")
	if err != nil {
		return Row{}, false, err
	}
	return Row{
		Position:     pos,
		MessageID:    msgID,
		MessageType:  msgType,
		PartitionKey: partKey,
		Payload:      payload,
	}, true, nil
}
