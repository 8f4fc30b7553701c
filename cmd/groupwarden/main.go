package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupwarden/internal/access"
	"groupwarden/internal/analytics"
	"groupwarden/internal/bot"
	"groupwarden/internal/config"
	"groupwarden/internal/moderation"
	"groupwarden/internal/modules/audit"
	"groupwarden/internal/modules/screening"
	"groupwarden/internal/modules/spam"
	"groupwarden/internal/modules/wordfilter"
	"groupwarden/internal/ratelimit"
	"groupwarden/internal/settings"
	"groupwarden/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maintenanceInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	registry := access.NewRegistry(store, auditLogger, logger, cfg.AdminUserID)
	analyticsService := analytics.New(store)

	wordFilter := wordfilter.New(store)
	settingsStore := settings.NewStore(store)
	settingsStore.OnFirstContact(func(ctx context.Context, groupID int64) {
		if err := wordFilter.SeedDefaults(ctx, groupID); err != nil {
			logger.Warn("word seed failed", zap.Int64("group_id", groupID), zap.Error(err))
		}
	})

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ceilings := ratelimit.CeilingsFromConfig(cfg.RateLimits)
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(runCtx, cfg.RedisURL, ceilings)
		if err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		limiter = redisLimiter
	} else {
		limiter = ratelimit.NewMemoryLimiter(ceilings)
	}

	machine := moderation.NewMachine(cfg.Punishment)
	engine := moderation.NewEngine(
		settingsStore,
		limiter,
		spam.New(cfg.Spam),
		wordFilter,
		screening.New(cfg.Screening),
		moderation.NewTracker(store, machine.Window()),
		machine,
		store,
		auditLogger,
		logger,
	)

	botSvc, err := bot.New(cfg, logger, engine, settingsStore, registry, analyticsService, auditLogger, limiter, store, bot.Providers{})
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	go maintenanceLoop(runCtx, logger, store, registry, cfg.RetentionDays)

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	logger.Info("bot starting")
	if err := botSvc.Run(runCtx); err != nil && err != context.Canceled {
		logger.Error("bot stopped", zap.Error(err))
	}
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		_ = server.Shutdown(ctx)
	}

	os.Exit(0)
}

// maintenanceLoop sweeps expired grants and trims the audit trail.
// Expiry is also enforced lazily on every read; the sweep only keeps the
// tables from growing.
func maintenanceLoop(ctx context.Context, logger *zap.Logger, store *storage.Store, registry *access.Registry, retentionDays int) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.Sweep(ctx); err != nil {
				logger.Warn("grant sweep failed", zap.Error(err))
			}
			if err := store.CleanupAuditLogs(ctx, retentionDays); err != nil {
				logger.Warn("audit cleanup failed", zap.Error(err))
			}
		}
	}
}
