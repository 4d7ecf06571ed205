package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cleartitle/internal/config"
	"cleartitle/internal/handlers"
	"cleartitle/internal/policy"
	"cleartitle/internal/repository"
	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	writeRateLimit     = rate.Limit(5)
	writeBurst         = 10
	limiterSweep       = 10 * time.Minute
	limiterIdle        = 30 * time.Minute
	geoUpdateInterval  = 24 * time.Hour
	shutdownTimeout    = 10 * time.Second
	readHeaderTimeout  = 10 * time.Second
	multipartMaxMemory = 32 << 20
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	tokens, err := services.NewTokenIssuer(cfg.JWTSecret, time.Duration(cfg.JWTExpiryHours)*time.Hour)
	if err != nil {
		return fmt.Errorf("invalid token configuration: %w", err)
	}

	db, err := repository.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if strings.HasPrefix(cfg.DatabaseURL, "postgres") {
		logger.Info("Running database migrations...")
		if err := repository.RunMigrations(cfg.DatabaseURL, ""); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	// The listing cache is optional; without redis every query hits the store.
	var cache *repository.ListingCache
	rdb, err := repository.InitRedis(cfg.RedisURL, cfg.RedisPassword, 0)
	if err != nil {
		logger.Warn("Failed to connect to Redis, listing cache disabled", "error", err)
	} else {
		defer rdb.Close()
		cache = repository.NewListingCache(rdb, cfg.ListingCacheTTL, logger)
	}

	var storage services.ObjectStorage = services.DisabledStorage{}
	if cfg.S3Bucket != "" {
		s3Storage, err := services.NewS3Storage(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize object storage: %w", err)
		}
		storage = s3Storage
	} else {
		logger.Warn("S3_BUCKET not set, listing image uploads disabled")
	}

	audit := services.NewAuditService(db, logger)
	geo := services.NewGeoResolver(cfg, logger)
	users := services.NewUserService(db, logger, audit, tokens)
	batches := services.NewBatchService(db, logger, audit)
	listings := services.NewListingService(db, logger, policy.NewGuard(logger, audit), storage, cache, audit,
		services.NewQRService(), cfg.PublicBaseURL)
	listings.OnDelete(batches.DetachUnit)
	clicks := services.NewClickService(db, logger, geo)
	rateLimiter := services.NewIPRateLimiter(writeRateLimit, writeBurst, logger)

	if err := users.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		if ctx.Err() != nil {
			logger.Info("Shutdown requested during startup")
			return nil
		}
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}

	h := handlers.NewHandler(cfg, logger, handlers.Services{
		Users:     users,
		Listings:  listings,
		Approval:  services.NewApprovalService(db, logger, audit, cache),
		Agents:    services.NewAgentService(db, logger, audit, repository.NewCounters(db)),
		Batches:   batches,
		Clicks:    clicks,
		Analytics: services.NewAnalyticsService(db, logger, cfg.AnalyticsTimeout),
		Enquiries: services.NewEnquiryService(db, logger),
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := h.SetupRouter(rateLimiter)
	r.MaxMultipartMemory = multipartMaxMemory

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	workersDone := make(chan struct{}, 2)
	go func() {
		audit.Start(workerCtx)
		workersDone <- struct{}{}
	}()
	go func() {
		clicks.Start(workerCtx)
		workersDone <- struct{}{}
	}()
	go func() {
		geo.Init()
		geo.StartUpdater(workerCtx, geoUpdateInterval)
	}()
	go rateLimiter.StartCleanup(workerCtx, limiterSweep, limiterIdle)
	defer geo.Close()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Queued audit entries and clicks are flushed before the store closes.
	workerCancel()
	for i := 0; i < 2; i++ {
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			logger.Warn("Workers did not stop in time")
			return nil
		}
	}

	logger.Info("Server exiting")
	return nil
}
