package queue

import (
	"time"

	"github.com/rs/zerolog"
)

// Config is shared by both queue variants.
type Config struct {
	Publish                Publisher
	Ack                    AckFunc
	OnRetry                RetryFunc
	OnFailedPublish        FailedPublishFunc
	WaitAfterFailedPublish time.Duration
	// PipelineConcurrency bounds outstanding publish calls for the
	// pipelined variant (spec.md §9 Open Question (c)). Ignored by Serial.
	PipelineConcurrency int
	Logger               zerolog.Logger
}

func (c Config) waitAfterFailedPublish() time.Duration {
	if c.WaitAfterFailedPublish <= 0 {
		return 30 * time.Second
	}
	return c.WaitAfterFailedPublish
}

func (c Config) pipelineConcurrency() int {
	if c.PipelineConcurrency <= 0 {
		return 16
	}
	return c.PipelineConcurrency
}
