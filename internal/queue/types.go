// Package queue implements the two publishing-queue variants of spec.md
// §4.4: a strictly serialized queue and a pipelined, bounded-concurrency
// queue that reorders acknowledgements back into commit order. Neither
// variant knows anything about Envelope/TransactionBatch — payloads are
// opaque, the way the teacher keeps internal/events.Bus generic over its
// own Event type rather than importing a concrete consumer's types.
package queue

import "context"

// Item is one unit of work submitted to a Queue. Seq is a sequence number
// the caller assigns per submission, for diagnostics only; ordering is
// enforced by submission order,
// since the single reader task that calls Submit always does so in commit
// order (spec.md §5).
type Item struct {
	Seq     uint64
	Payload interface{}
}

// Publisher invokes the user's publish callback. attempt is the number of
// prior failed attempts for this item (0 on the first call), so the caller
// can stamp DeliveredEnvelope.RedeliveryCount before invoking the real
// callback.
type Publisher func(ctx context.Context, payload interface{}, attempt int) error

// AckFunc is invoked, in submission order and only once all predecessors
// have already been acknowledged, when an item has been durably published.
type AckFunc func(ctx context.Context, item Item) error

// RetryFunc is invoked after a failed publish attempt, before the next
// attempt, so the caller can persist the new redelivery counter (spec.md
// §4.4: "the redelivery counter for that batch is incremented and
// persisted before each retry").
type RetryFunc func(ctx context.Context, item Item, attempt int)

// FailedPublishFunc is the Options.OnFailedPublish sink, invoked once per
// failed attempt with the error that caused it.
type FailedPublishFunc func(item Item, attempt int, err error)

// Queue is the common contract both variants implement.
type Queue interface {
	// Submit enqueues item for publishing. It may block (backpressure) but
	// never drops: this is the bounded in-memory queue of spec.md §5.
	Submit(ctx context.Context, item Item) error
	// Close stops accepting new items, lets in-flight work drain up to the
	// given context's deadline, and returns. In-flight publish calls are
	// never canceled; if the deadline elapses first their eventual results
	// are ignored (spec.md §5).
	Close(ctx context.Context)
}
