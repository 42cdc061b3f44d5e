package hermes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hermesdb/hermes/internal/auxiliary"
	"github.com/hermesdb/hermes/internal/changefeed"
	"github.com/hermesdb/hermes/internal/logger"
	"github.com/hermesdb/hermes/internal/storemongo"
)

// MongoOptions configures the document-backend consumer (spec.md §6).
type MongoOptions struct {
	// URI is the MongoDB connection string. Must point at a replica set or
	// sharded cluster: change streams require one.
	URI string
	// Database names the database holding the outbox collections.
	Database string
}

// leaseRenewInterval must stay well under storemongo's own lease window so
// a live consumer never loses its claim between renewals.
const leaseRenewInterval = 10 * time.Second

// NewMongoConsumer builds a Consumer backed by MongoDB change streams
// (spec.md §4.3).
func NewMongoConsumer(ctx context.Context, opts Options, mg MongoOptions) (*Consumer, error) {
	if opts.ConsumerName == "" {
		return nil, errors.New("hermes: ConsumerName is required")
	}
	if mg.Database == "" {
		return nil, errors.New("hermes: MongoOptions.Database is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mg.URI))
	if err != nil {
		return nil, fmt.Errorf("hermes: connect mongo: %w", err)
	}
	db := client.Database(mg.Database)

	partitionKey := opts.partitionKey()

	b := &mongoBackend{
		client:       client,
		db:           db,
		collection:   db.Collection(storemongo.PrimaryOutboxCollection),
		consumerName: opts.ConsumerName,
		partitionKey: partitionKey,
		ownerID:      uuid.New().String(),
		primary:      storemongo.NewPrimaryOutbox(db),
		state:        storemongo.NewConsumerState(db, opts.ConsumerName, partitionKey),
		log:          logger.New("hermes-mongo"),
	}
	if opts.Auxiliary != nil {
		b.secondary = storemongo.NewSecondaryOutbox(db, opts.ConsumerName)
	}
	return newConsumer(opts, b), nil
}

// mongoBackend implements the hermes.backend interface on top of
// internal/changefeed and internal/storemongo. Unlike the log backend,
// ownership here is a lease document rather than an open connection, so it
// needs its own renewal goroutine to stay held across the consumer's
// lifetime (spec.md §5's mutual-exclusion requirement, implemented by
// storemongo.ConsumerState.Acquire).
type mongoBackend struct {
	client       *mongo.Client
	db           *mongo.Database
	collection   *mongo.Collection
	consumerName string
	partitionKey string
	ownerID      string

	primary   *storemongo.PrimaryOutbox
	secondary *storemongo.SecondaryOutbox
	state     *storemongo.ConsumerState
	log       zerolog.Logger

	mu        sync.Mutex
	lastToken string

	renewCancel context.CancelFunc
	renewWg     sync.WaitGroup
}

func (b *mongoBackend) bootstrap(ctx context.Context) error {
	return storemongo.Migrate(ctx, b.db)
}

func (b *mongoBackend) acquire(ctx context.Context) error {
	ok, err := b.state.Acquire(ctx, b.ownerID)
	if err != nil {
		return fmt.Errorf("hermes: acquire mongo lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: consumer %q partition %q already leased", ErrConsumerAlreadyTaken, b.consumerName, b.partitionKey)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	b.renewCancel = cancel
	b.renewWg.Add(1)
	go b.renewLease(renewCtx)
	return nil
}

func (b *mongoBackend) renewLease(ctx context.Context) {
	defer b.renewWg.Done()
	ticker := time.NewTicker(leaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.state.Acquire(ctx, b.ownerID); err != nil {
				b.log.Error().Err(err).Msg("renew mongo lease")
			}
		}
	}
}

func (b *mongoBackend) loadState(ctx context.Context) (string, int, error) {
	tok, redelivery, err := b.state.Load(ctx)
	if err != nil {
		return "", 0, err
	}
	b.mu.Lock()
	b.lastToken = tok
	b.mu.Unlock()
	return tok, redelivery, nil
}

func (b *mongoBackend) runIngestor(ctx context.Context, first bool, out chan<- TransactionBatch) error {
	b.mu.Lock()
	tok := b.lastToken
	b.mu.Unlock()

	resumeTok, err := changefeed.DecodeResumeToken(tok)
	if err != nil {
		return err
	}
	ing := changefeed.New(changefeed.Config{
		Collection:   b.collection,
		PartitionKey: b.partitionKey,
		ResumeToken:  resumeTok,
	}, b.log)

	local := make(chan changefeed.Batch, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ing.Run(ctx, local)
		close(local)
	}()

	for batch := range local {
		select {
		case out <- translateMongoBatch(batch):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return <-errCh
}

func translateMongoBatch(batch changefeed.Batch) TransactionBatch {
	envs := make([]DeliveredEnvelope, len(batch.Rows))
	for i, r := range batch.Rows {
		envs[i] = DeliveredEnvelope{
			Envelope: Envelope{
				MessageID:   r.MessageID,
				MessageType: r.MessageType,
				Payload:     r.Payload,
			},
			Position:       r.Position,
			SourcePosition: batch.SourcePosition,
		}
	}
	return TransactionBatch{
		TransactionID:  uuid.New().String(),
		SourcePosition: batch.SourcePosition,
		CommitTime:     batch.CommitTime,
		Envelopes:      envs,
	}
}

func (b *mongoBackend) advance(ctx context.Context, token string) error {
	b.mu.Lock()
	b.lastToken = token
	b.mu.Unlock()
	return b.state.Advance(ctx, token)
}

func (b *mongoBackend) recordRetry(ctx context.Context, attempt int) error {
	return b.state.RecordRetry(ctx, attempt)
}

// enqueuePrimary ignores tx: a host transaction on the document backend is
// expressed by the caller passing a mongo.SessionContext as ctx, which
// Enqueue/Send forward unchanged into these driver calls.
func (b *mongoBackend) enqueuePrimary(ctx context.Context, partitionKey string, msgs []Envelope, tx interface{}) error {
	converted := make([]storemongo.OutboxMessage, len(msgs))
	for i, m := range msgs {
		converted[i] = storemongo.OutboxMessage{MessageID: m.MessageID, MessageType: m.MessageType, Data: m.Payload}
	}
	return b.primary.Enqueue(ctx, partitionKey, converted)
}

func (b *mongoBackend) enqueueSecondary(ctx context.Context, msgs []Envelope, tx interface{}) error {
	if b.secondary == nil {
		return ErrAuxiliaryNotConfigured
	}
	for _, m := range msgs {
		if err := b.secondary.Send(ctx, storemongo.OutboxMessage{MessageID: m.MessageID, MessageType: m.MessageType, Data: m.Payload}); err != nil {
			return err
		}
	}
	return nil
}

func (b *mongoBackend) auxiliaryStore() (auxiliary.Store, bool) {
	if b.secondary == nil {
		return nil, false
	}
	return auxiliary.MongoStore{DAO: b.secondary}, true
}

func (b *mongoBackend) release(ctx context.Context) {
	if b.renewCancel != nil {
		b.renewCancel()
		b.renewWg.Wait()
		b.renewCancel = nil
	}
	if err := b.state.Release(ctx, b.ownerID); err != nil {
		b.log.Warn().Err(err).Msg("release mongo lease")
	}
}

func (b *mongoBackend) close() {
	_ = b.client.Disconnect(context.Background())
}

func (b *mongoBackend) ping(ctx context.Context) error {
	return b.client.Ping(ctx, nil)
}
