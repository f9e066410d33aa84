// main wires the slot ledger's stores, services and background loops. With a
// database URL it runs on PostgreSQL; without one it runs fully in memory,
// which is what local development and the examples use.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	httpapi "examreg/internal/http"
	jwttoken "examreg/internal/jwt_token"
	"examreg/internal/platform/config"
	"examreg/internal/platform/httpserver"
	"examreg/internal/platform/logger"
	platformredis "examreg/internal/platform/redis"
	"examreg/internal/slots/cache"
	"examreg/internal/slots/gateway/paystack"
	"examreg/internal/slots/handler"
	"examreg/internal/slots/metrics"
	"examreg/internal/slots/models"
	"examreg/internal/slots/notify"
	"examreg/internal/slots/ports"
	"examreg/internal/slots/service/guard"
	"examreg/internal/slots/service/purchase"
	"examreg/internal/slots/service/registration"
	"examreg/internal/slots/store/catalog"
	"examreg/internal/slots/store/ledger"
	"examreg/internal/slots/store/order"
	regstore "examreg/internal/slots/store/registration"
	"examreg/internal/slots/store/runner"
	id "examreg/pkg/domain"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		ledgerStore ports.LedgerStore
		orderStore  ports.OrderStore
		cat         ports.PackageCatalog
		outbox      ports.NotificationOutbox
		txRunner    ports.TxRunner
		regStore    ports.RegistrationStore
		ready       func() error
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := ledger.Migrate(ctx, db); err != nil {
			log.Error("migrate schema", "error", err)
			os.Exit(1)
		}
		ledgerStore = ledger.NewPostgres(db)
		orderStore = order.NewPostgres(db)
		cat = catalog.NewPostgres(db)
		outbox = notify.NewPostgresOutbox(db)
		txRunner = runner.NewSQL(db)
		regStore = regstore.NewPostgres(db)
		ready = func() error { return db.PingContext(context.Background()) }
	} else {
		log.Warn("no database configured, using in-memory stores")
		memOrders := order.NewMemory()
		ledgerStore = ledger.NewMemory(memOrders)
		orderStore = memOrders
		cat = catalog.NewMemory(defaultPackages(), defaultChapters())
		outbox = notify.NewMemoryOutbox()
		txRunner = runner.NewMemory()
		regStore = regstore.NewMemory()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		ledgerStore = cache.Wrap(ledgerStore, redisClient, cfg.BalanceCacheTTL, cache.WithLogger(log))
	}

	gateway := paystack.New(cfg.Gateway, paystack.WithLogger(log), paystack.WithMetrics(m))

	purchases := purchase.New(ledgerStore, orderStore, cat, gateway, outbox, txRunner,
		purchase.Settings{
			VerifyAttempts: cfg.VerifyAttempts,
			VerifyBackoff:  cfg.VerifyBackoff,
			AbandonAfter:   cfg.AbandonAfter,
			SweepInterval:  cfg.SweepInterval,
			GatewayTimeout: cfg.Gateway.Timeout,
		},
		purchase.WithLogger(log), purchase.WithMetrics(m))
	guardSvc := guard.New(ledgerStore, txRunner, cfg.ConsumeConflictRetries,
		guard.WithLogger(log), guard.WithMetrics(m))
	registrar := registration.New(regStore, guardSvc, registration.WithLogger(log))

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "examreg")
	h := handler.New(purchases, guardSvc, registrar, gateway, jwtService, log)
	srv := httpserver.New(cfg.Addr, httpapi.NewRouter(h, log, ready))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting examreg server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		purchases.StartSweep(groupCtx)
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := notify.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Error("create kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		worker := notify.NewWorker(outbox, producer, cfg.OutboxPollInterval,
			notify.WithWorkerLogger(log), notify.WithWorkerMetrics(m))
		group.Go(func() error {
			if err := worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Warn("no kafka brokers configured, purchase notifications stay queued")
	}

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// defaultPackages mirrors the seeded catalog used when no database backs the
// service.
func defaultPackages() []models.SlotPackage {
	return []models.SlotPackage{
		{ID: 1, Name: "Starter", SlotCount: 10, Active: true},
		{ID: 2, Name: "Standard", SlotCount: 50, Active: true},
		{ID: 3, Name: "Large", SlotCount: 100, Active: true},
	}
}

func defaultChapters() map[id.ChapterID]catalog.ChapterPricing {
	return map[id.ChapterID]catalog.ChapterPricing{
		1: {Amount: 300000},
	}
}
