package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/camrent-orders/internal/config"
	"github.com/ariefcatur/camrent-orders/internal/httpx"
	kafkax "github.com/ariefcatur/camrent-orders/internal/kafka"
	"github.com/ariefcatur/camrent-orders/internal/ledger"
	"github.com/ariefcatur/camrent-orders/internal/logger"
	"github.com/ariefcatur/camrent-orders/internal/orders"
	"github.com/ariefcatur/camrent-orders/internal/orderservice"
	"github.com/ariefcatur/camrent-orders/internal/payment"
	"github.com/ariefcatur/camrent-orders/internal/postgres"
	"github.com/ariefcatur/camrent-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFile).Named(cfg.ServiceName)
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

	// Kafka producers, one per topic
	created := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	changes := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStatusChanged, 1024, log)
	settled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderSettled, 1024, log)
	producers := []*kafkax.Producer{created, changes, settled}
	for _, p := range producers {
		p.Start(ctx)
	}

	svc := orderservice.New(&orders.Repo{DB: db}, orderservice.Options{
		Events: &orderservice.Events{
			Created:       created,
			StatusChanges: changes,
			Settlements:   settled,
			Producer:      cfg.ServiceName,
		},
		Payments:        payment.Redirect{Base: cfg.Rental.PaymentRedirectBase},
		ReservationRate: cfg.Rental.ReservationRate,
		Logger:          log,
	})

	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{
		Service: svc,
		Cache:   redisx.StatusCache{RDB: rdb},
		Idem:    redisx.Idempotency{RDB: rdb},
		Ledger:  &ledger.Repo{DB: db},
		Log:     log,
		Timeout: cfg.OrderService.Timeout,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // close inbox, flush and close writer
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
}
