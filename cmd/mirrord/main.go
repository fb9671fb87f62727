// Command mirrord serves entity profiles and statement histories from a
// local mirror, consulting the slow upstream registry only when a record is
// missing or stale.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eranova-digital/datacore/pkg/logging"
	"github.com/eranova-digital/datacore/pkg/mirror"
	"github.com/eranova-digital/datacore/pkg/ratelimit"
	"github.com/eranova-digital/datacore/pkg/registry"
	"github.com/eranova-digital/datacore/pkg/store"
	"github.com/eranova-digital/datacore/pkg/upstream"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
		Output: os.Stderr,
	})

	port := getEnv("PORT", "8080")
	registryURL := getEnv("REGISTRY_URL", "https://registry.example.com")
	userAgent := getEnv("USER_AGENT", "datacore-mirrord/0.1.0")
	storeKind := getEnv("STORE", "sqlite")

	profileStore, statementStore, cleanup, err := buildStores(storeKind)
	if err != nil {
		logger.Fatal().Err(err).Str("store", storeKind).Msg("Store initialization failed")
	}
	defer cleanup()
	logger.Info().Str("store", storeKind).Msg("Store ready")

	clientCfg := upstream.DefaultConfig(registryURL, userAgent)
	client, err := upstream.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Upstream client initialization failed")
	}

	svcCfg := registry.DefaultConfig()
	svcCfg.ProfileFreshness = getEnvDuration("PROFILE_FRESHNESS", svcCfg.ProfileFreshness)
	svcCfg.StatementFreshness = getEnvDuration("STATEMENT_FRESHNESS", svcCfg.StatementFreshness)
	svc := registry.New(client, profileStore, statementStore, svcCfg)
	defer svc.Close()

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests:   getEnvInt("RATE_LIMIT_MAX", 3),
		Window:        getEnvDuration("RATE_LIMIT_WINDOW", time.Second),
		SweepInterval: time.Minute,
	})
	defer limiter.Close()

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(svc, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", server.Addr).Str("registry", registryURL).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// buildStores selects the record stores from the STORE environment variable.
// The returned cleanup closes whatever backend was opened.
func buildStores(kind string) (mirror.Store[upstream.Profile], mirror.Store[upstream.Statement], func(), error) {
	switch kind {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: getEnv("REDIS_URL", "localhost:6379"),
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() { _ = client.Close() }
		return store.NewRedis[upstream.Profile](client, "profile"),
			store.NewRedis[upstream.Statement](client, "statement"),
			cleanup, nil

	case "memory":
		return store.NewMemory[upstream.Profile](),
			store.NewMemory[upstream.Statement](),
			func() {}, nil

	default: // sqlite
		db, err := store.OpenSQLite(getEnv("SQLITE_PATH", "data/mirror.db"))
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() { _ = db.Close() }
		return store.NewSQLite[upstream.Profile](db, "profile"),
			store.NewSQLite[upstream.Statement](db, "statement"),
			cleanup, nil
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
