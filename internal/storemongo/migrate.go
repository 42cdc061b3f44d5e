package storemongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Migrate creates the indexes the document backend relies on. Index
// creation is idempotent — "already exists" is not an error — mirroring
// storepg.Migrate's safety under concurrent starts.
func Migrate(ctx context.Context, db *mongo.Database) error {
	primary := db.Collection(PrimaryOutboxCollection)
	if _, err := primary.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "partitionKey", Value: 1}, {Key: "position", Value: 1}},
	}); err != nil {
		return fmt.Errorf("storemongo: migrate: primary index: %w", err)
	}

	secondary := db.Collection(SecondaryOutboxCollection)
	if _, err := secondary.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "consumerName", Value: 1}, {Key: "addedAt", Value: 1}},
		Options: options.Index().SetPartialFilterExpression(bson.D{{Key: "delivered", Value: false}}),
	}); err != nil {
		return fmt.Errorf("storemongo: migrate: secondary index: %w", err)
	}

	state := db.Collection(ConsumerStateCollection)
	if _, err := state.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "consumerName", Value: 1}, {Key: "partitionKey", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("storemongo: migrate: consumer state index: %w", err)
	}

	return nil
}
