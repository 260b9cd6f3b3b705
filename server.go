package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/backend"
	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/mmdatafocus/books_reconcile/draftstore"
	"github.com/mmdatafocus/books_reconcile/handlers"
	"github.com/mmdatafocus/books_reconcile/middlewares"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/mmdatafocus/books_reconcile/snapshot"
	"github.com/mmdatafocus/books_reconcile/submission"
	"github.com/sirupsen/logrus"
)

const (
	submitLockTTL = 30 * time.Second
	purgeInterval = time.Hour
)

func main() {
	logger := config.GetLogger()
	settings, err := config.LoadSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err.Error())
	}
	money.SetCurrency(settings.Currency)

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	client, err := backend.NewClient(backend.Options{
		BaseURL:     settings.BackendURL,
		Timeout:     settings.BackendTimeout,
		Logger:      logger,
		ReadBreaker: backend.NewReadBreaker("backend-reads", logger),
	})
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "backend"}).Fatal(err.Error())
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	drafts, err := openDraftStore(workerCtx, settings, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "draftstore"}).Fatal(err.Error())
	}
	var guard submission.Guard = submission.NewLocalGuard()
	if config.DistributedSubmitLock() {
		if config.GetRedisLock() == nil {
			config.ConnectRedisWithRetry()
		}
		guard = submission.NewRedisGuard(config.GetRedisLock(), submitLockTTL, logger)
	}

	deps := submission.Deps{
		Backend:   client,
		Snapshots: snapshot.New(client, snapshot.WithTTL(settings.SnapshotTTL)),
		Drafts:    drafts,
		Guard:     guard,
		Registry:  submission.NewRegistry(),
		Validator: submission.NewValidator(),
		Logger:    logger,
	}

	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist; an empty one denies all.
	if settings.IsProduction() {
		corsConfig.AllowOrigins = settings.CORSAllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "x-business-id", "x-user-id", "x-correlation-id", "Origin", "Content-Type")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		if config.GetRedisDB() == nil {
			config.ConnectRedisWithRetry()
		}
		limit := positiveIntEnv("RATE_LIMIT_MAX_REQUESTS", 600)
		window := time.Duration(positiveIntEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		r.Use(middlewares.NewRateLimiter(config.GetRedisDB(), int64(limit), window).Middleware())
	}

	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())
	api := r.Group("/", middlewares.SessionMiddleware())
	handlers.New(deps).Register(api)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()
	log.Printf("reconcile facade listening on :%s (drafts=%s)", settings.Port, settings.DraftStore)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// openDraftStore connects the store named by DRAFT_STORE. The mysql store also gets a purge loop
// for expired drafts that runs until ctx is done.
func openDraftStore(ctx context.Context, settings config.Settings, logger *logrus.Logger) (draftstore.Store, error) {
	switch settings.DraftStore {
	case config.DraftStoreRedis:
		config.ConnectRedisWithRetry()
		return draftstore.NewRedisStore(config.GetRedisDB(), settings.DraftTTL), nil
	case config.DraftStoreMySQL:
		config.ConnectDatabaseWithRetry()
		store := draftstore.NewGormStore(config.GetDB(), settings.DraftTTL)
		if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
			if err := store.Migrate(); err != nil {
				return nil, err
			}
		}
		go purgeExpiredDrafts(ctx, store, logger)
		return store, nil
	default:
		return draftstore.NewMemoryStore(settings.DraftTTL), nil
	}
}

func purgeExpiredDrafts(ctx context.Context, store *draftstore.GormStore, logger *logrus.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				config.LogError(logger, "server.go", "purgeExpiredDrafts", "PurgeExpired", nil, err)
				continue
			}
			if n > 0 {
				logger.WithFields(logrus.Fields{"field": "draftstore", "purged": n}).Info("purged expired drafts")
			}
		}
	}
}

func positiveIntEnv(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		return n
	}
	return def
}
