package storemongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type consumerStateDoc struct {
	ConsumerName    string     `bson:"consumerName"`
	PartitionKey    string     `bson:"partitionKey"`
	ResumeToken     string     `bson:"resumeToken"` // changefeed.EncodeResumeToken output
	RedeliveryCount int        `bson:"redeliveryCount"`
	LockedBy        string     `bson:"lockedBy,omitempty"`
	LeaseUntil      *time.Time `bson:"leaseUntil,omitempty"`
	CreatedAt       time.Time  `bson:"createdAt"`
	UpdatedAt       time.Time  `bson:"updatedAt"`
}

// ConsumerState is the document-backend position store: the resume token
// stands in for storepg's "last_acked_token" column (spec.md §3).
type ConsumerState struct {
	coll         *mongo.Collection
	consumerName string
	partitionKey string
}

func NewConsumerState(db *mongo.Database, consumerName, partitionKey string) *ConsumerState {
	return &ConsumerState{
		coll:         db.Collection(ConsumerStateCollection),
		consumerName: consumerName,
		partitionKey: partitionKey,
	}
}

func (c *ConsumerState) filter() bson.D {
	return bson.D{{Key: "consumerName", Value: c.consumerName}, {Key: "partitionKey", Value: c.partitionKey}}
}

// Load returns the persisted resume token ("" if never acknowledged) and
// redelivery counter, seeding a fresh row on first use.
func (c *ConsumerState) Load(ctx context.Context) (string, int, error) {
	var doc consumerStateDoc
	err := c.coll.FindOne(ctx, c.filter()).Decode(&doc)
	switch err {
	case nil:
		return doc.ResumeToken, doc.RedeliveryCount, nil
	case mongo.ErrNoDocuments:
		now := time.Now().UTC()
		_, insErr := c.coll.InsertOne(ctx, consumerStateDoc{
			ConsumerName: c.consumerName, PartitionKey: c.partitionKey,
			CreatedAt: now, UpdatedAt: now,
		})
		if insErr != nil {
			return "", 0, fmt.Errorf("storemongo: consumer state: seed row: %w", insErr)
		}
		return "", 0, nil
	default:
		return "", 0, fmt.Errorf("storemongo: consumer state: load: %w", err)
	}
}

// Advance persists a new resume token and resets the redelivery counter.
func (c *ConsumerState) Advance(ctx context.Context, resumeToken string) error {
	_, err := c.coll.UpdateOne(ctx, c.filter(), bson.D{{Key: "$set", Value: bson.D{
		{Key: "resumeToken", Value: resumeToken},
		{Key: "redeliveryCount", Value: 0},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("storemongo: consumer state: advance: %w", err)
	}
	return nil
}

// RecordRetry persists the bumped redelivery counter ahead of the next
// publish attempt.
func (c *ConsumerState) RecordRetry(ctx context.Context, attempt int) error {
	_, err := c.coll.UpdateOne(ctx, c.filter(), bson.D{{Key: "$set", Value: bson.D{
		{Key: "redeliveryCount", Value: attempt},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("storemongo: consumer state: record retry: %w", err)
	}
	return nil
}

// leaseDuration bounds how long an acquired lock is honored without
// renewal — if the owning process dies without releasing, another Start
// can reclaim the partition after this window.
const leaseDuration = 30 * time.Second

// Acquire claims exclusive ownership of this (consumerName, partitionKey)
// for ownerID, standing in for the log backend's replication-slot
// exclusivity (spec.md §5 "a unique filter on the consumer-state row").
// Returns false, nil (not an error) if another live owner holds the lease.
func (c *ConsumerState) Acquire(ctx context.Context, ownerID string) (bool, error) {
	now := time.Now().UTC()
	leaseUntil := now.Add(leaseDuration)

	filter := bson.D{
		{Key: "consumerName", Value: c.consumerName},
		{Key: "partitionKey", Value: c.partitionKey},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "lockedBy", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "lockedBy", Value: ""}},
			bson.D{{Key: "lockedBy", Value: ownerID}},
			bson.D{{Key: "leaseUntil", Value: bson.D{{Key: "$lt", Value: now}}}},
		}},
	}
	_, err := c.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.D{
		{Key: "lockedBy", Value: ownerID},
		{Key: "leaseUntil", Value: leaseUntil},
		{Key: "updatedAt", Value: now},
	}}}, options.Update().SetUpsert(true))
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, fmt.Errorf("storemongo: consumer state: acquire: %w", err)
}

// Release clears ownership, letting a subsequent Start acquire immediately
// rather than waiting out the lease.
func (c *ConsumerState) Release(ctx context.Context, ownerID string) error {
	_, err := c.coll.UpdateOne(ctx,
		bson.D{{Key: "consumerName", Value: c.consumerName}, {Key: "partitionKey", Value: c.partitionKey}, {Key: "lockedBy", Value: ownerID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lockedBy", Value: ""}, {Key: "updatedAt", Value: time.Now().UTC()}}}},
	)
	if err != nil {
		return fmt.Errorf("storemongo: consumer state: release: %w", err)
	}
	return nil
}
