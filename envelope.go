package hermes

import (
	"context"
	"time"
)

// Envelope is the message as the caller hands it to Enqueue/Send (spec.md
// §3 "Message envelope"). MessageID is opaque and supplied by the caller;
// it is expected to be deterministic so that the publish callback can use
// it for idempotent handling of at-least-once redelivery.
type Envelope struct {
	MessageID   string
	MessageType string
	Payload     []byte // opaque JSON text, never reflected over by the core
}

// DeliveredEnvelope is what the publish callback receives (spec.md §3
// "Delivered envelope"). Position is the monotonic per-partition sequence
// assigned by the storage engine at insert time; SourcePosition is the
// opaque upstream log/resume token of the transaction this row belongs to.
type DeliveredEnvelope struct {
	Envelope
	Position        int64
	SourcePosition  string
	RedeliveryCount int
	DeliveredAt     time.Time // set on acknowledgement when Options.SaveTimestamps is set; zero while the callback runs
}

// TransactionBatch is a totally ordered, non-empty sequence of delivered
// envelopes that were committed together upstream (spec.md §3 "Transaction
// batch"). Document-backend batches always have exactly one envelope.
type TransactionBatch struct {
	TransactionID  string
	SourcePosition string // the commit position token
	CommitTime     time.Time
	Envelopes      []DeliveredEnvelope
}

// PublishFunc is the user-supplied callback invoked once per transaction
// batch. A normal return means delivered; a returned error means retry
// after Options.WaitAfterFailedPublish, with the redelivery counter
// incremented and persisted before the next attempt (spec.md §4.4, Design
// Note 5: the JS source's "callback throws" contract is represented here as
// a returned error, at the Go boundary).
type PublishFunc func(ctx context.Context, batch TransactionBatch) error
