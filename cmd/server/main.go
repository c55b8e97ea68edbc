package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acadex/attempt-service/internal/cache"
	"github.com/acadex/attempt-service/internal/config"
	"github.com/acadex/attempt-service/internal/handlers"
	"github.com/acadex/attempt-service/internal/repositories/postgres"
	"github.com/acadex/attempt-service/internal/services"
	"github.com/acadex/attempt-service/internal/utils"
	"github.com/acadex/attempt-service/internal/validator"
	"github.com/acadex/attempt-service/pkg"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	var logger utils.Logger
	if cfg.Environment == "production" {
		logger = utils.NewDefaultLogger()
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger = utils.NewDevelopmentLogger()
	}
	slogger := utils.ToSlogLogger(logger)

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		logger.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	var cacheService cache.CacheService
	if redisClient, err := pkg.NewRedisClient(cfg); err != nil {
		logger.LogError(err, "Redis unavailable, falling back to in-process cache")
		cacheService = cache.NewMemoryCache()
	} else {
		defer redisClient.Close()
		cacheService = cache.NewRedisCache(redisClient, slogger)
	}

	publisher, err := cfg.Events.CreateEventPublisher(slogger)
	if err != nil {
		logger.LogError(err, "Failed to create event publisher")
		os.Exit(1)
	}
	defer publisher.Close()

	repo := postgres.NewRepository(db)
	attemptService := services.NewAttemptService(repo, cacheService, publisher, slogger, validator.New())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.LoggerMiddleware(logger))

	handlerManager := handlers.NewHandlerManager(attemptService, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Server-side backstop: sweep attempts whose clock ran out for clients
	// that never came back to submit.
	go runReaper(ctx, attemptService, cfg.ReaperInterval, logger)

	go func() {
		logger.Info("Starting attempt service", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(err, "Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(err, "Forced shutdown")
	}
}

func runReaper(ctx context.Context, attemptService services.AttemptService, interval time.Duration, logger utils.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := attemptService.ExpireOverdue(ctx)
			if err != nil {
				logger.LogError(err, "Overdue attempt sweep failed")
				continue
			}
			if expired > 0 {
				logger.Info("Swept overdue attempts", "count", expired)
			}
		}
	}
}
