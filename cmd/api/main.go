package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"corebridge/ack"
	"corebridge/auth"
	"corebridge/config"
	"corebridge/db"
	"corebridge/event"
	"corebridge/forward"
	"corebridge/ingest"
	"corebridge/listener"
	"corebridge/logging"
	"corebridge/mailbox"
	"corebridge/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Env: cfg.Env})
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("corebridge stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool := openDatabase(ctx, cfg.Storage, logger)
	if pool != nil {
		defer pool.Close()
	}

	store, mode := event.Open(cfg.Storage.Type, pool)
	var ackRepo ack.Repository = ack.NewMemoryRepository()
	if mode == event.ModePostgres {
		ackRepo = ack.NewPGRepository(pool)
	}
	logger.Info("storage selected",
		zap.String("configured", cfg.Storage.Type),
		zap.String("effective", mode))

	mb, closeMailbox, err := openMailbox(ctx, cfg.Mailbox, logger)
	if err != nil {
		return err
	}
	defer closeMailbox()

	var keys auth.KeySource
	if cfg.Security.JWKSURI != "" {
		keys = auth.NewJWKSCache(cfg.Security.JWKSURI, cfg.Security.JWKSCacheTTL, cfg.Security.JWKSTimeout)
	} else {
		logger.Warn("SECURITY_JWKS_URI is empty; token signatures will not be verified")
	}

	reg := registry.New(cfg.Modules.Authorized, registry.ParseOriginMap(cfg.Modules.OriginMap))
	if len(reg.Authorized()) == 0 {
		logger.Warn("APP_AUTHORIZED_MODULES is empty; every module will be rejected")
	}

	dispatcher := forward.NewDispatcher(cfg.Core.Workers, logger)
	forwarder := forward.NewClient(forward.Config{
		Enabled:            cfg.Core.ForwardEnabled,
		BaseURL:            cfg.Core.APIURL,
		EventsPath:         cfg.Core.EventsPath,
		AcksPath:           cfg.Core.AcksPath,
		Timeout:            cfg.Core.Timeout,
		BreakerFailures:    cfg.Core.BreakerFailures,
		BreakerOpenTimeout: cfg.Core.BreakerOpenTimeout,
	}, store, dispatcher, logger)

	pipeline := ingest.NewPipeline(ingest.Deps{
		Auth:      auth.NewAuthenticator(keys),
		Registry:  reg,
		Store:     store,
		Ledger:    ack.NewLedger(ackRepo, store, logger),
		Mailbox:   mb,
		Forwarder: forwarder,
		Logger:    logger,
	})

	storage := StorageInfo{
		ConfiguredType: cfg.Storage.Type,
		EffectiveMode:  mode,
		Active:         store,
	}
	if pool != nil {
		storage.Durable = event.NewPGStore(pool)
	}
	server := NewServer(pipeline, storage, cfg.Debug.APIKeyHash, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		l := listener.New(listener.NewReader(listener.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}), pipeline, logger)
		g.Go(func() error {
			defer func() { _ = l.Close() }()
			return l.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("pending forwards abandoned", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// openDatabase returns nil when MEMORY is forced, no URL is configured, or
// the database cannot be reached.
func openDatabase(ctx context.Context, cfg config.Storage, logger *zap.Logger) *pgxpool.Pool {
	if cfg.MemoryStorageForced() || cfg.DatabaseURL == "" {
		return nil
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Warn("database unavailable, using memory storage", zap.Error(err))
			return nil
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(connectCtx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		logger.Warn("database unavailable, using memory storage", zap.Error(err))
		return nil
	}
	return pool
}

func openMailbox(ctx context.Context, cfg config.Mailbox, logger *zap.Logger) (mailbox.Mailbox, func(), error) {
	if !cfg.UsesRedis() {
		return mailbox.NewMemoryMailbox(), func() {}, nil
	}
	client, err := mailbox.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return mailbox.NewRedisMailbox(client, cfg.KeyPrefix, logger), func() { _ = client.Close() }, nil
}
