package changefeed

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EncodeResumeToken renders a driver resume token as the opaque string
// stored in the consumer-state row — base64 of the token's raw BSON bytes,
// not its debug String() form, so DecodeResumeToken round-trips it exactly.
func EncodeResumeToken(tok bson.Raw) string {
	return base64.StdEncoding.EncodeToString([]byte(tok))
}

// DecodeResumeToken reverses EncodeResumeToken. Returns nil, nil for the
// empty string (a consumer that has never acknowledged anything).
func DecodeResumeToken(s string) (bson.Raw, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("changefeed: decode resume token: %w", err)
	}
	return bson.Raw(b), nil
}

// Config scopes a change stream to one partition of the primary outbox
// collection.
type Config struct {
	Collection   *mongo.Collection
	PartitionKey string
	ResumeToken  bson.Raw // nil for a brand-new consumer
}

// Ingestor watches inserts into the primary outbox collection for one
// partition.
type Ingestor struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Ingestor {
	return &Ingestor{cfg: cfg, log: log}
}

type outboxDocument struct {
	Position     int64  `bson:"position"`
	MessageID    string `bson:"messageId"`
	MessageType  string `bson:"messageType"`
	PartitionKey string `bson:"partitionKey"`
	Data         bson.Raw `bson:"data"`
}

type changeEvent struct {
	OperationType string         `bson:"operationType"`
	FullDocument  outboxDocument `bson:"fullDocument"`
}

// Run opens a resumable change stream filtered to operationType=insert and
// fullDocument.partitionKey=cfg.PartitionKey (spec.md §4.3), emitting one
// Batch per insert until ctx is canceled or a fatal error occurs. An
// ErrPositionLost return means the resume token has aged out of the
// server's retention window and the caller must not restart without
// operator action; any other error is a recoverable transport error the
// caller retries after a backoff.
func (g *Ingestor) Run(ctx context.Context, out chan<- Batch) error {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "fullDocument.partitionKey", Value: g.cfg.PartitionKey},
		}}},
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if g.cfg.ResumeToken != nil {
		opts.SetResumeAfter(g.cfg.ResumeToken)
	}

	stream, err := g.cfg.Collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return classifyStreamErr(fmt.Errorf("changefeed: watch: %w", err))
	}
	defer stream.Close(context.Background())

	g.log.Info().Str("partition", g.cfg.PartitionKey).Msg("change stream opened")

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			return fmt.Errorf("changefeed: decode change event: %w", err)
		}

		row := Row{
			Position:     ev.FullDocument.Position,
			MessageID:    ev.FullDocument.MessageID,
			MessageType:  ev.FullDocument.MessageType,
			PartitionKey: ev.FullDocument.PartitionKey,
			Payload:      []byte(ev.FullDocument.Data),
		}
		token := stream.ResumeToken()
		batch := Batch{
			SourcePosition: EncodeResumeToken(token),
			CommitTime:     time.Now(),
			Rows:           []Row{row},
		}

		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := stream.Err(); err != nil {
		return classifyStreamErr(fmt.Errorf("changefeed: stream: %w", err))
	}
	return ctx.Err()
}
