package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/evcharge-reservations/internal/config"
	kafkax "github.com/ariefcatur/evcharge-reservations/internal/kafka"
	"github.com/ariefcatur/evcharge-reservations/internal/logging"
	"github.com/ariefcatur/evcharge-reservations/internal/redisx"
	"github.com/ariefcatur/evcharge-reservations/internal/relay"
	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", cfg.ServiceName+"-relay"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &relay.Service{
		Dedup:         redisx.Deduper{Redis: rdb, Service: "relay"},
		Out:           relay.RedisBroadcaster{Redis: rdb},
		ChannelPrefix: cfg.RelayChannelPrefix,
		Log:           log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RelayGroup, reservations.TopicStatusChanged, cfg.RelayWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("relay consumer started",
			zap.String("group", cfg.RelayGroup),
			zap.Int("workers", cfg.RelayWorkers),
		)
		if err := cons.Start(ctx, svc.HandleStatusChanged); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down relay")
	cancel()
	<-done
}
