package hermes

import "errors"

// Sentinel errors forming the error taxonomy of spec.md §7. Background
// tasks never return these directly to the caller; they route them through
// the configured OnDbError/OnFailedPublish sinks and retry or terminate the
// stream session as appropriate. User-facing methods (Enqueue, Send, Start,
// Stop) return them directly, optionally wrapped with %w for context.
var (
	// ErrConsumerAlreadyTaken is returned from Start when the replication
	// slot (log backend) or the partition's consumer-state row (document
	// backend) is already held by another live consumer.
	ErrConsumerAlreadyTaken = errors.New("hermes: consumer already taken for this name/partition")

	// ErrNotStarted is returned by Enqueue/Send when called before Start
	// has completed, or after Stop.
	ErrNotStarted = errors.New("hermes: consumer not started")

	// ErrAuxiliaryNotConfigured is returned by Send when Options.Auxiliary
	// was not set.
	ErrAuxiliaryNotConfigured = errors.New("hermes: auxiliary outbox not configured")

	// ErrStorageError wraps insertion/selection/update failures against the
	// primary or secondary outbox tables/collections.
	ErrStorageError = errors.New("hermes: storage error")

	// ErrPublishError wraps a user publish callback failure. The batch is
	// retried after Options.WaitAfterFailedPublish.
	ErrPublishError = errors.New("hermes: publish callback failed")

	// ErrProtocolError indicates a malformed logical-replication frame.
	// Fatal to the current stream session; triggers a reconnect from the
	// last acknowledged position.
	ErrProtocolError = errors.New("hermes: malformed replication protocol frame")

	// ErrPositionLost indicates the document backend's resume token has
	// fallen outside the upstream change-stream retention window. Fatal;
	// requires operator intervention (the ingestor will not auto-restart).
	ErrPositionLost = errors.New("hermes: resume position no longer available upstream")

	// ErrNotSupportedVersion indicates the storage engine's version does
	// not support the replication/change-stream features Hermes needs.
	ErrNotSupportedVersion = errors.New("hermes: storage engine version not supported")
)

// DBErrorContext carries the operation name and partition alongside a
// storage error passed to Options.OnDbError, so hosts can correlate errors
// across partitions without parsing message strings.
type DBErrorContext struct {
	Op           string
	PartitionKey string
	Err          error
}

func (c DBErrorContext) Error() string { return c.Op + ": " + c.Err.Error() }
func (c DBErrorContext) Unwrap() error { return c.Err }

// PublishErrorContext carries the offending batch and attempt number
// alongside a publish error passed to Options.OnFailedPublish.
type PublishErrorContext struct {
	Batch   TransactionBatch
	Attempt int
	Err     error
}

func (c PublishErrorContext) Error() string { return c.Err.Error() }
func (c PublishErrorContext) Unwrap() error { return c.Err }
