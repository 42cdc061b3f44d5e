package hermes

// enqueueConfig backs both EnqueueOption and SendOption (spec.md §4.1
// `enqueue(message | messages, {tx?, partitionKey?})` and §4.5
// `send(message | messages, {tx?})`). partitionKey is only read by Enqueue;
// Send has no partition-key override per spec.md §4.5.
type enqueueConfig struct {
	tx           interface{}
	partitionKey string
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueConfig)

// SendOption customizes a single Send call.
type SendOption func(*enqueueConfig)

// WithPartitionKey overrides Options.PartitionKey for one Enqueue call
// (spec.md §4.1 "Partition-key overrides the consumer default per call").
func WithPartitionKey(key string) EnqueueOption {
	return func(c *enqueueConfig) { c.partitionKey = key }
}
