package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	os.Setenv("HERMES_POSTGRES_DSN", "postgres://localhost/hermes")
	os.Setenv("HERMES_POSTGRES_REPLICATION_DSN", "postgres://localhost/hermes?replication=database")
	defer os.Unsetenv("HERMES_POSTGRES_DSN")
	defer os.Unsetenv("HERMES_POSTGRES_REPLICATION_DSN")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "hermes-auxiliary-demo", cfg.ConsumerName)
	require.Equal(t, "default", cfg.PartitionKey)
}

func TestNew_MissingRequired(t *testing.T) {
	os.Unsetenv("HERMES_POSTGRES_DSN")
	os.Unsetenv("HERMES_POSTGRES_REPLICATION_DSN")

	_, err := New()
	require.Error(t, err)
}
