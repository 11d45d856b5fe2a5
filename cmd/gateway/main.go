// Command gateway runs the entity gateway HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/entity_gateway/internal/config"
	"github.com/R3E-Network/entity_gateway/internal/gateway"
	"github.com/R3E-Network/entity_gateway/internal/idempotency"
	"github.com/R3E-Network/entity_gateway/internal/logging"
	"github.com/R3E-Network/entity_gateway/internal/middleware"
	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/storage"
	memstore "github.com/R3E-Network/entity_gateway/internal/storage/memory"
	pgstore "github.com/R3E-Network/entity_gateway/internal/storage/postgres"
)

func main() {
	cfg := config.LoadOrDefault()
	log := logging.New("gateway", cfg.LogLevel, os.Stderr)

	reg, err := registry.LoadFromPath(cfg.EntitiesPath)
	if err != nil {
		log.WithError(err).Error("load entity registry")
		os.Exit(1)
	}

	var db *sqlx.DB
	if cfg.Storage.Backend == config.BackendPostgres || cfg.Idempotency.Backend == config.BackendPostgres {
		db, err = sqlx.Connect("postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			log.WithError(err).Error("connect postgres")
			os.Exit(1)
		}
		defer db.Close()
	}

	var repo storage.Repository
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		repo = pgstore.New(db)
	default:
		repo = memstore.New()
	}

	var idemStore idempotency.Store
	switch cfg.Idempotency.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
		defer client.Close()
		idemStore = idempotency.NewRedisStore(client)
	case config.BackendPostgres:
		idemStore = idempotency.NewPostgresStore(db)
	default:
		idemStore = idempotency.NewMemoryStore()
	}

	opts := gateway.Options{AuditMaxEntries: cfg.Audit.MaxEntries}
	if cfg.Audit.FilePath != "" {
		opts.AuditSink = gateway.NewFileAuditSink(cfg.Audit.FilePath)
	}
	handler := gateway.NewHandler(reg, repo, idemStore, log, opts)

	rl := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	chain := middleware.CORS(cfg.CORSOrigins)(handler)
	chain = rl.Handler(chain)
	if cfg.Auth.JWTSecret != "" {
		chain = middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), log).Handler(chain)
	}
	chain = middleware.RequestLogging(log)(chain)

	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@every 10m", rl.Cleanup); err != nil {
		log.WithError(err).Error("schedule maintenance")
		os.Exit(1)
	}
	maintenance.Start()
	defer maintenance.Stop()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("gateway listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
			os.Exit(1)
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}
}
