package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/placeshare/internal/app/migrate"
	httpx "github.com/splax/placeshare/internal/http"
	"github.com/splax/placeshare/internal/media"
	"github.com/splax/placeshare/internal/notify"
	"github.com/splax/placeshare/internal/repository"
	"github.com/splax/placeshare/internal/repository/memory"
	"github.com/splax/placeshare/internal/repository/postgres"
	"github.com/splax/placeshare/internal/service/auth"
	"github.com/splax/placeshare/internal/service/place"
	"github.com/splax/placeshare/internal/service/user"
	"github.com/splax/placeshare/internal/ws"
	"github.com/splax/placeshare/pkg/config"
	"github.com/splax/placeshare/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.NewWithFormat("api", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	mediaStore, err := media.New(cfg.UploadDir, cfg.UploadMaxBytes, log)
	if err != nil {
		log.Error("failed to prepare upload directory", "dir", cfg.UploadDir, "error", err)
		os.Exit(1)
	}
	defer mediaStore.Wait()

	hub := ws.NewHub(log)
	defer hub.Close()

	creds := auth.NewCredentials(cfg.JWTSecret, cfg.TokenTTL, cfg.BcryptCost)
	authSvc := auth.New(store, creds, log)
	userSvc := user.New(store, log)
	events := notify.Fanout{hub}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		hook, err := notify.NewWebhook(url, cfg.WebhookToken, nil, log)
		if err != nil {
			log.Error("failed to configure place webhook", "error", err)
			os.Exit(1)
		}
		defer hook.Close()
		events = append(events, hook)
	}
	placeSvc := place.New(store, store, store, mediaStore, events, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Options{
		BasePath:          cfg.BasePath,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		UploadMaxBytes:    cfg.UploadMaxBytes,
	}, authSvc, userSvc, placeSvc, mediaStore, hub, limiter, store.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openStore connects the configured backend. Postgres is migrated before use.
func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	case config.StoreDriverPostgres, "":
	default:
		return nil, errors.New("unsupported store driver " + cfg.StoreDriver)
	}

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		return nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	repo := postgres.New(pool)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}
