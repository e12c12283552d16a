package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/camrent-orders/internal/config"
	kafkax "github.com/ariefcatur/camrent-orders/internal/kafka"
	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/logger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/postgres"
	"github.com/ariefcatur/camrent-orders/internal/redisx"
	"github.com/ariefcatur/camrent-orders/internal/settlement"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFile).Named("settlement")
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db connect", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &settlement.Service{
		Ledger: &ledger.Repo{DB: db},
		Dedup:  redisx.Dedup{RDB: rdb, Service: cfg.Settlement.Group},
		Log:    log,
	}

	var wg sync.WaitGroup
	for _, topic := range []string{orders.TopicStatusChanged, orders.TopicOrderSettled} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Settlement.Group, topic, cfg.Settlement.Workers, log)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			log.Info("consumer started", "group", cfg.Settlement.Group, "topic", topic, "workers", cfg.Settlement.Workers)
			if err := cons.Start(ctx, svc.Handle); err != nil && ctx.Err() == nil {
				log.Error("consumer exit", "topic", topic, err)
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumers")
	cancel()
	wg.Wait()
}
