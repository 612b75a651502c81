package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/samber/do"
	"github.com/serroba/admission/internal/container"
	"github.com/serroba/admission/internal/messaging"
	"github.com/serroba/admission/internal/ratelimit"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	opts := &container.Options{
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		StoreTimeoutMS: getEnvInt("STORE_TIMEOUT_MS", 500),
		LimitPerSecond: getEnvInt("LIMIT_PER_SECOND", 10),
		CapacityMode:   getEnv("CAPACITY_MODE", string(ratelimit.CapacityPerWindow)),
		LeakStrategy:   getEnv("LEAK_STRATEGY", string(ratelimit.LeakByRange)),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ConsumerGroup:  getEnv("CONSUMER_GROUP", "admission-decisions"),
	}

	injector := do.New()
	do.ProvideValue(injector, opts)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.RateLimitPackage(injector)
	container.ConsumerGroupPackage(injector)

	logger := do.MustInvoke[*zap.Logger](injector)
	group := do.MustInvoke[*messaging.ConsumerGroup](injector)
	drainer := do.MustInvoke[*ratelimit.Drainer](injector)

	ctx, cancel := context.WithCancel(context.Background())

	if err := group.Start(ctx); err != nil {
		logger.Fatal("failed to start consumer group", zap.Error(err))
	}

	drainer.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down", zap.Int("watched_queues", drainer.Watching()))
	cancel()

	if err := injector.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	_ = logger.Sync()
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return v
}
