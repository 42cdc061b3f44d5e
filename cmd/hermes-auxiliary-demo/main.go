package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hermesdb/hermes"
	"github.com/hermesdb/hermes/internal/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	consumer, err := hermes.NewPostgresConsumer(hermes.Options{
		ConsumerName: cfg.ConsumerName,
		PartitionKey: cfg.PartitionKey,
		Publish:      publish,
		Auxiliary:    &hermes.AuxiliaryOptions{},
	}, hermes.PostgresOptions{
		DSN:            cfg.PostgresDSN,
		ReplicationDSN: cfg.PostgresReplicationDSN,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build consumer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start consumer")
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("stop consumer")
		os.Exit(1)
	}
}

func publish(ctx context.Context, batch hermes.TransactionBatch) error {
	for _, env := range batch.Envelopes {
		log.Info().
			Str("messageId", env.MessageID).
			Str("messageType", env.MessageType).
			Int("redeliveryCount", env.RedeliveryCount).
			Msg("delivered")
	}
	return nil
}
