package hermes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/hermesdb/hermes/internal/auxiliary"
	"github.com/hermesdb/hermes/internal/logger"
	"github.com/hermesdb/hermes/internal/logicalrepl"
	"github.com/hermesdb/hermes/internal/position"
	"github.com/hermesdb/hermes/internal/slotname"
	"github.com/hermesdb/hermes/internal/storepg"
)

// PostgresOptions configures the log-backend consumer (spec.md §6).
type PostgresOptions struct {
	// DSN is the pooled connection string used for ordinary queries
	// (inserts, position store, secondary outbox).
	DSN string
	// ReplicationDSN is a separate connection string carrying
	// replication=database, used for the raw replication connection.
	// Required.
	ReplicationDSN string
	// Publication names the PostgreSQL publication covering the primary
	// outbox table. Defaults to "hermes_outbox".
	Publication string
}

// WithTx threads a host-managed *sql.Tx through Enqueue, so the outbox
// insert commits atomically with the caller's own business write (spec.md
// §4.1 "inserts ... using the supplied host-managed transaction when
// provided, otherwise opening its own transaction"). Only meaningful for a
// Postgres consumer; the document-backend consumer instead expects the
// caller to pass a mongo.SessionContext as ctx itself, since the Mongo
// driver threads transactions through context rather than an explicit
// handle.
func WithTx(tx *sql.Tx) EnqueueOption {
	return func(c *enqueueConfig) { c.tx = tx }
}

// WithSendTx is WithTx's counterpart for Send (spec.md §4.5 "same atomicity
// semantics as primary enqueue").
func WithSendTx(tx *sql.Tx) SendOption {
	return func(c *enqueueConfig) { c.tx = tx }
}

func (p PostgresOptions) publication() string {
	if p.Publication == "" {
		return "hermes_outbox"
	}
	return p.Publication
}

// NewPostgresConsumer builds a Consumer backed by PostgreSQL logical
// replication v1 (spec.md §4.2).
func NewPostgresConsumer(opts Options, pg PostgresOptions) (*Consumer, error) {
	if opts.ConsumerName == "" {
		return nil, errors.New("hermes: ConsumerName is required")
	}
	if pg.ReplicationDSN == "" {
		return nil, errors.New("hermes: PostgresOptions.ReplicationDSN is required")
	}

	db, err := sql.Open("pgx", pg.DSN)
	if err != nil {
		return nil, fmt.Errorf("hermes: open postgres pool: %w", err)
	}

	partitionKey := opts.partitionKey()
	slot := slotname.Slot(opts.ConsumerName, partitionKey)

	b := &pgBackend{
		db:             db,
		replicationDSN: pg.ReplicationDSN,
		publication:    pg.publication(),
		slot:           slot,
		partitionKey:   partitionKey,
		primary:        storepg.NewPrimaryOutbox(db),
		state:          storepg.NewConsumerState(db, opts.ConsumerName, partitionKey),
		log:            logger.New("hermes-postgres"),
	}
	if opts.Auxiliary != nil {
		b.secondary = storepg.NewSecondaryOutbox(db, opts.ConsumerName)
	}
	return newConsumer(opts, b), nil
}

// pgBackend implements the hermes.backend interface on top of
// internal/logicalrepl and internal/storepg.
type pgBackend struct {
	db             *sql.DB
	replicationDSN string
	publication    string
	slot           string
	partitionKey   string

	primary   *storepg.PrimaryOutbox
	secondary *storepg.SecondaryOutbox
	state     *storepg.ConsumerState
	log       zerolog.Logger

	ingestor *logicalrepl.Ingestor
	ack      *logicalrepl.AckPosition

	mu       sync.Mutex
	dialConn *pgconn.PgConn
	dialLSN  pglogrepl.LSN
}

func (b *pgBackend) bootstrap(ctx context.Context) error {
	return storepg.Bootstrap(ctx, b.db, b.replicationDSN, b.publication, b.slot)
}

func (b *pgBackend) acquire(ctx context.Context) error {
	b.ack = logicalrepl.NewAckPosition(0)
	b.ingestor = logicalrepl.New(logicalrepl.Config{
		DSN:          b.replicationDSN,
		Publication:  b.publication,
		Slot:         b.slot,
		PartitionKey: b.partitionKey,
	}, b.ack, b.log)

	conn, startLSN, err := b.ingestor.Dial(ctx)
	if err != nil {
		if errors.Is(err, logicalrepl.ErrSlotActive) {
			return fmt.Errorf("%w: %v", ErrConsumerAlreadyTaken, err)
		}
		return fmt.Errorf("hermes: dial replication: %w", err)
	}
	b.mu.Lock()
	b.dialConn, b.dialLSN = conn, startLSN
	b.mu.Unlock()
	return nil
}

func (b *pgBackend) loadState(ctx context.Context) (string, int, error) {
	tok, redelivery, err := b.state.Load(ctx)
	if err != nil {
		return "", 0, err
	}
	if !tok.IsZero() {
		lsn, err := position.ParseLSN(tok)
		if err != nil {
			return "", 0, fmt.Errorf("hermes: parse persisted LSN: %w", err)
		}
		b.ack.Store(lsn)
	}
	return tok.String(), redelivery, nil
}

func (b *pgBackend) runIngestor(ctx context.Context, first bool, out chan<- TransactionBatch) error {
	var conn *pgconn.PgConn
	var startLSN pglogrepl.LSN

	if first {
		b.mu.Lock()
		conn, startLSN = b.dialConn, b.dialLSN
		b.dialConn = nil
		b.mu.Unlock()
	}
	if conn == nil {
		var err error
		conn, startLSN, err = b.ingestor.Dial(ctx)
		if err != nil {
			if errors.Is(err, logicalrepl.ErrSlotActive) {
				return fmt.Errorf("%w: %v", ErrConsumerAlreadyTaken, err)
			}
			return err
		}
	}
	defer conn.Close(context.Background())

	local := make(chan logicalrepl.Batch, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.ingestor.Stream(ctx, conn, startLSN, local)
		close(local)
	}()

	for batch := range local {
		select {
		case out <- translatePgBatch(batch):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return <-errCh
}

func translatePgBatch(batch logicalrepl.Batch) TransactionBatch {
	tok := position.FromLSN(batch.CommitPosition).String()
	envs := make([]DeliveredEnvelope, len(batch.Rows))
	for i, r := range batch.Rows {
		envs[i] = DeliveredEnvelope{
			Envelope: Envelope{
				MessageID:   r.MessageID,
				MessageType: r.MessageType,
				Payload:     r.Payload,
			},
			Position:       r.Position,
			SourcePosition: tok,
		}
	}
	return TransactionBatch{
		TransactionID:  batch.TransactionID,
		SourcePosition: tok,
		CommitTime:     batch.CommitTime,
		Envelopes:      envs,
	}
}

func (b *pgBackend) advance(ctx context.Context, token string) error {
	lsn, err := position.ParseLSN(position.Token(token))
	if err != nil {
		return fmt.Errorf("hermes: parse ack token: %w", err)
	}
	b.ack.Store(lsn)
	return b.state.Advance(ctx, position.Token(token))
}

func (b *pgBackend) recordRetry(ctx context.Context, attempt int) error {
	return b.state.RecordRetry(ctx, attempt)
}

func (b *pgBackend) enqueuePrimary(ctx context.Context, partitionKey string, msgs []Envelope, tx interface{}) error {
	sqlTx, _ := tx.(*sql.Tx)
	converted := make([]storepg.OutboxMessage, len(msgs))
	for i, m := range msgs {
		converted[i] = storepg.OutboxMessage{MessageID: m.MessageID, MessageType: m.MessageType, Data: m.Payload}
	}
	return b.primary.Enqueue(ctx, sqlTx, partitionKey, converted)
}

func (b *pgBackend) enqueueSecondary(ctx context.Context, msgs []Envelope, tx interface{}) error {
	if b.secondary == nil {
		return ErrAuxiliaryNotConfigured
	}
	sqlTx, _ := tx.(*sql.Tx)
	for _, m := range msgs {
		if err := b.secondary.Send(ctx, sqlTx, storepg.OutboxMessage{MessageID: m.MessageID, MessageType: m.MessageType, Data: m.Payload}); err != nil {
			return err
		}
	}
	return nil
}

func (b *pgBackend) auxiliaryStore() (auxiliary.Store, bool) {
	if b.secondary == nil {
		return nil, false
	}
	return auxiliary.PGStore{DAO: b.secondary}, true
}

func (b *pgBackend) release(ctx context.Context) {
	b.mu.Lock()
	conn := b.dialConn
	b.dialConn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close(context.Background())
	}
}

func (b *pgBackend) close() {
	_ = b.db.Close()
}

func (b *pgBackend) ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}
