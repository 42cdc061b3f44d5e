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

// secondaryLeaseDuration bounds how long a claimed-but-not-yet-marked-done
// row stays invisible to other ticks, standing in for the row lock FOR
// UPDATE SKIP LOCKED gives the Postgres backend for free.
const secondaryLeaseDuration = time.Minute

type secondaryDoc struct {
	Position     int64      `bson:"position"`
	ConsumerName string     `bson:"consumerName"`
	MessageID    string     `bson:"messageId"`
	MessageType  string     `bson:"messageType"`
	Data         bson.Raw   `bson:"data"`
	Delivered    bool       `bson:"delivered"`
	FailsCount   int        `bson:"failsCount"`
	AddedAt      time.Time  `bson:"addedAt"`
	SentAt       *time.Time `bson:"sentAt"`
	LeaseUntil   *time.Time `bson:"leaseUntil,omitempty"`
}

// SecondaryRow mirrors storepg.SecondaryRow so internal/auxiliary stays
// backend-agnostic.
type SecondaryRow struct {
	Position    int64
	MessageID   string
	MessageType string
	Data        json.RawMessage
	FailsCount  int
}

// SecondaryOutbox is the document-backend auxiliary-queue DAO.
type SecondaryOutbox struct {
	coll         *mongo.Collection
	counters     *mongo.Collection
	consumerName string
}

func NewSecondaryOutbox(db *mongo.Database, consumerName string) *SecondaryOutbox {
	return &SecondaryOutbox{
		coll:         db.Collection(SecondaryOutboxCollection),
		counters:     db.Collection(CountersCollection),
		consumerName: consumerName,
	}
}

// Send inserts a new pending row, reserving a position from the shared
// counters collection (keyed by "secondary:<consumerName>" to stay
// independent of any partition's primary-outbox counter).
func (s *SecondaryOutbox) Send(ctx context.Context, msg OutboxMessage) error {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: "secondary:" + s.consumerName}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return fmt.Errorf("storemongo: secondary send: reserve position: %w", err)
	}

	_, err = s.coll.InsertOne(ctx, secondaryDoc{
		Position: out.Seq, ConsumerName: s.consumerName,
		MessageID: msg.MessageID, MessageType: msg.MessageType,
		Data: bson.Raw(msg.Data), AddedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("storemongo: secondary send: insert: %w", err)
	}
	return nil
}

// LeaseBatch atomically claims up to n undelivered, unleased rows ordered
// by addedAt, standing in for FOR UPDATE SKIP LOCKED via a per-row
// FindOneAndUpdate claim on leaseUntil.
func (s *SecondaryOutbox) LeaseBatch(ctx context.Context, n int) ([]SecondaryRow, error) {
	now := time.Now().UTC()
	leaseExpiry := now.Add(secondaryLeaseDuration)

	var out []SecondaryRow
	for len(out) < n {
		filter := bson.D{
			{Key: "consumerName", Value: s.consumerName},
			{Key: "delivered", Value: false},
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "leaseUntil", Value: bson.D{{Key: "$exists", Value: false}}}},
				bson.D{{Key: "leaseUntil", Value: bson.D{{Key: "$lt", Value: now}}}},
			}},
		}
		var doc secondaryDoc
		err := s.coll.FindOneAndUpdate(ctx, filter,
			bson.D{{Key: "$set", Value: bson.D{{Key: "leaseUntil", Value: leaseExpiry}}}},
			options.FindOneAndUpdate().
				SetSort(bson.D{{Key: "addedAt", Value: 1}}).
				SetReturnDocument(options.After),
		).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storemongo: secondary lease: %w", err)
		}
		out = append(out, SecondaryRow{
			Position: doc.Position, MessageID: doc.MessageID, MessageType: doc.MessageType,
			Data: json.RawMessage(doc.Data), FailsCount: doc.FailsCount,
		})
	}
	return out, nil
}

// MarkDone flips delivered=true and stamps sentAt.
func (s *SecondaryOutbox) MarkDone(ctx context.Context, position int64) error {
	now := time.Now().UTC()
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "position", Value: position}, {Key: "consumerName", Value: s.consumerName}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "delivered", Value: true}, {Key: "sentAt", Value: now}}},
			{Key: "$unset", Value: bson.D{{Key: "leaseUntil", Value: ""}}}},
	)
	if err != nil {
		return fmt.Errorf("storemongo: secondary mark done: %w", err)
	}
	return nil
}

// MarkFailed increments failsCount and releases the lease so the row is
// eligible again on the next tick.
func (s *SecondaryOutbox) MarkFailed(ctx context.Context, position int64) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "position", Value: position}, {Key: "consumerName", Value: s.consumerName}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "failsCount", Value: 1}}},
			{Key: "$unset", Value: bson.D{{Key: "leaseUntil", Value: ""}}}},
	)
	if err != nil {
		return fmt.Errorf("storemongo: secondary mark failed: %w", err)
	}
	return nil
}
