// Package config loads the environment-driven settings for Hermes's
// optional demo binary, adapted from the teacher's internal/config
// package: the same envconfig.Process(prefix, &cfg) struct-tag style, with
// the memory service's MEMORY_BACKEND_* fields replaced by the handful
// cmd/hermes-auxiliary-demo actually needs.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the settings for cmd/hermes-auxiliary-demo. Environment
// variables are parsed from the HERMES_ prefix, e.g. HERMES_POSTGRES_DSN.
type Config struct {
	PostgresDSN            string `envconfig:"POSTGRES_DSN" required:"true"`
	PostgresReplicationDSN string `envconfig:"POSTGRES_REPLICATION_DSN" required:"true"`
	ConsumerName           string `envconfig:"CONSUMER_NAME" default:"hermes-auxiliary-demo"`
	PartitionKey           string `envconfig:"PARTITION_KEY" default:"default"`
}

// New parses HERMES_-prefixed environment variables into a Config.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("HERMES", &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	return &cfg, nil
}
