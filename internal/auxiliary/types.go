// Package auxiliary implements the polling secondary outbox consumer of
// spec.md §4.5: a ticker loop that leases undelivered rows and invokes the
// publish callback, independent of which storage backend the primary
// consumer uses. Grounded on internal/outbox/worker.go's Run/processOnce
// ticker loop, generalized from that worker's fixed vector-index apply
// step to an opaque publish callback and a backend-agnostic Store.
//
// Per spec.md's REDESIGN FLAGS, this package holds no reference back to
// the main outbox consumer type: the top-level Consumer constructs a
// Worker from an auxiliary.Config it builds itself, so there is no mutual
// type dependency between the two.
package auxiliary

import (
	"context"
	"encoding/json"
)

// Row is one leased pending row of the secondary outbox, independent of
// whether it came from storepg or storemongo.
type Row struct {
	Position    int64
	MessageID   string
	MessageType string
	Data        json.RawMessage
	FailsCount  int
}

// Store is the backend-agnostic DAO surface a Worker needs. storepg and
// storemongo's secondary-outbox DAOs are adapted to this interface by the
// small wrappers in adapter.go.
type Store interface {
	LeaseBatch(ctx context.Context, n int) ([]Row, error)
	MarkDone(ctx context.Context, position int64) error
	MarkFailed(ctx context.Context, position int64) error
}

// Envelope is handed to the publish callback for each leased row.
type Envelope struct {
	MessageID       string
	MessageType     string
	Data            json.RawMessage
	RedeliveryCount int
}

// PublishFunc is the auxiliary queue's publish callback (spec.md §4.5).
type PublishFunc func(ctx context.Context, env Envelope) error
