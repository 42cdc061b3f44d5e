package storemongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OutboxMessage is one row to enqueue, shared shape with storepg's so
// callers don't branch on backend when building the insert payload.
type OutboxMessage struct {
	MessageID   string
	MessageType string
	Data        json.RawMessage
}

type primaryOutboxDoc struct {
	Position     int64     `bson:"position"`
	MessageID    string    `bson:"messageId"`
	MessageType  string    `bson:"messageType"`
	PartitionKey string    `bson:"partitionKey"`
	Data         bson.Raw  `bson:"data"`
	AddedAt      time.Time `bson:"addedAt"`
}

// PrimaryOutbox writes rows into the watched collection. Mongo has no
// server-assigned monotonic column, so each insert first reserves a
// position via the counters collection's atomic increment (spec.md §4.3
// "commit position is a monotonic 64-bit counter").
type PrimaryOutbox struct {
	db *mongo.Database
}

func NewPrimaryOutbox(db *mongo.Database) *PrimaryOutbox { return &PrimaryOutbox{db: db} }

// Enqueue inserts msgs in order, each reserving the next position for
// partitionKey. ctx, when the caller is inside a Mongo multi-document
// transaction, must carry the active session; Hermes itself passes
// context.Background()-derived contexts when the host has no transaction.
func (p *PrimaryOutbox) Enqueue(ctx context.Context, partitionKey string, msgs []OutboxMessage) error {
	coll := p.db.Collection(PrimaryOutboxCollection)
	now := time.Now().UTC()

	for _, m := range msgs {
		pos, err := p.nextPosition(ctx, partitionKey)
		if err != nil {
			return err
		}
		doc := primaryOutboxDoc{
			Position:     pos,
			MessageID:    m.MessageID,
			MessageType:  m.MessageType,
			PartitionKey: partitionKey,
			Data:         bson.Raw(m.Data),
			AddedAt:      now,
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("storemongo: enqueue: insert: %w", err)
		}
	}
	return nil
}

func (p *PrimaryOutbox) nextPosition(ctx context.Context, partitionKey string) (int64, error) {
	coll := p.db.Collection(CountersCollection)
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: partitionKey}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("storemongo: reserve position: %w", err)
	}
	return out.Seq, nil
}
