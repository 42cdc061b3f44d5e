// Package storemongo is the MongoDB storage backend of spec.md §6: the
// primary/secondary outbox collections, the consumer-state document, and
// the per-partition position counter the document backend needs since
// Mongo has no server-assigned monotonic column. Grounded in shape on
// internal/store/postgres/postgres.go's DAO-per-collection layout;
// go.mongodb.org/mongo-driver is the only pack repo to import the Mongo
// driver, so its own documented APIs (FindOneAndUpdate, Watch, Indexes())
// are the primary grounding for the driver calls themselves.
package storemongo

const (
	PrimaryOutboxCollection   = "primary_outbox"
	SecondaryOutboxCollection = "secondary_outbox"
	ConsumerStateCollection   = "consumer_state"
	CountersCollection        = "position_counters"
)
