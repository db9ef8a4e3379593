package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/catalog"
	"github.com/ariefcatur/evcharge-reservations/internal/config"
	"github.com/ariefcatur/evcharge-reservations/internal/events"
	"github.com/ariefcatur/evcharge-reservations/internal/httpx"
	kafkax "github.com/ariefcatur/evcharge-reservations/internal/kafka"
	"github.com/ariefcatur/evcharge-reservations/internal/logging"
	"github.com/ariefcatur/evcharge-reservations/internal/payments"
	"github.com/ariefcatur/evcharge-reservations/internal/postgres"
	"github.com/ariefcatur/evcharge-reservations/internal/redisx"
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
	log = log.With(zap.String("service", cfg.ServiceName))

	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal("config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolConfig{})
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.StatusCache{Redis: rdb}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, reservations.TopicStatusChanged, 1024, log)
	prod.Start(ctx)

	loc, err := time.LoadLocation(cfg.SlotTimezone)
	if err != nil {
		log.Fatal("slot timezone", zap.String("tz", cfg.SlotTimezone), zap.Error(err))
	}

	engine := &reservations.Engine{
		Store:     &postgres.ReservationStore{DB: db},
		Directory: &catalog.PostgresDirectory{DB: db},
		Events: events.Fanout{
			events.KafkaEmitter{Producer: prod, Service: cfg.ServiceName, Log: log},
			events.CacheInvalidator{Cache: cache, Log: log},
		},
		Clock: reservations.SystemClock,
		Policy: reservations.Policy{
			MinCancelLead:    cfg.MinCancelLead,
			DefaultUnitPrice: cfg.DefaultUnitPrice,
			SlotLocation:     loc,
		},
		Log: log.Named("reservations"),
	}
	coord := &payments.Coordinator{
		Engine: engine,
		Processor: payments.NewStripeProcessor(payments.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			BaseURL:       cfg.StripeBaseURL,
			Timeout:       cfg.ProcessorTimeout,
		}),
		Currency: cfg.Currency,
		Timeout:  cfg.ProcessorTimeout,
		Dedup:    redisx.Deduper{Redis: rdb, Service: "webhook"},
		Cache:    cache,
		Log:      log.Named("payments"),
	}

	router := httpx.NewRouter(log.Named("http"))
	h := &httpx.ReservationsHandler{
		Engine:    engine,
		Payments:  coord,
		Cache:     cache,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	prod.WaitClosed()
	cancel()
}
