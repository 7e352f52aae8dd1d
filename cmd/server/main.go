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

	"github.com/joho/godotenv"

	"bengkelku/backend/internal/cache"
	"bengkelku/backend/internal/config"
	"bengkelku/backend/internal/dashboard"
	"bengkelku/backend/internal/httpapi"
	"bengkelku/backend/internal/service"
	"bengkelku/backend/internal/store"
	storememory "bengkelku/backend/internal/store/memory"
	storepostgres "bengkelku/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, repoCloser, err := buildRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	if repoCloser != nil {
		defer repoCloser()
	}

	summaryCache, cacheCloser := buildSummaryCache(ctx, cfg)
	if cacheCloser != nil {
		defer cacheCloser()
	}

	board := dashboard.NewEngine(summaryCache, time.Duration(cfg.SummaryTTLSeconds)*time.Second)
	svc := service.New(repo, board, cfg.ReferralBaseURL, cfg.SignupBonusCents, cfg.DefaultCommissionRate)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if cfg.AuthSecret == "" {
		return errors.New("AUTH_SECRET must be set")
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters, got %d", len(cfg.AuthSecret))
	}
	return nil
}

// buildRepository selects the persistence backend. When DATABASE_URL is set
// the server requires Postgres to be reachable; a misconfigured production
// deployment must not silently degrade to the in-memory store.
func buildRepository(ctx context.Context, cfg config.Config) (store.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, using in-memory store with seed data")
		return storememory.NewSeeded(), nil, nil
	}

	pg, err := storepostgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Println("connected to postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Printf("closing postgres: %v", err)
		}
	}, nil
}

// buildSummaryCache wires Redis when configured, falling back to a no-op
// cache so the dashboard still works without one.
func buildSummaryCache(ctx context.Context, cfg config.Config) (cache.SummaryCache, func()) {
	if cfg.RedisAddr == "" {
		log.Println("REDIS_ADDR not set, dashboard summaries will not be cached")
		return cache.NoopSummaryCache{}, nil
	}

	redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		log.Printf("redis unreachable (%v), dashboard summaries will not be cached", err)
		_ = redisCache.Close()
		return cache.NoopSummaryCache{}, nil
	}

	log.Println("connected to redis")
	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			log.Printf("closing redis: %v", err)
		}
	}
}
