package helpers

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
	"github.com/cankoe/rcon-event-scheduler/internal/lease"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
)

const DefaultConfigPath = "config/config.yaml"

type AppComponents struct {
	Config      *config.Config
	Store       store.Store
	RedisClient *redis.Client
}

// InitializeCommonComponents loads configuration, configures logging and
// opens the store. Redis is connected only when enabled.
func InitializeCommonComponents(ctx context.Context, serviceName string) (*AppComponents, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	cfg, err := config.LoadConfig(configPath, os.Args[1:])
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := SetupLogging(cfg.Log)
	log.Info().Msgf("Starting %s service with log level %s...", serviceName, level.String())

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	app := &AppComponents{Config: cfg, Store: st}
	if cfg.Redis.Enabled {
		client, err := lease.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		app.RedisClient = client
	}
	return app, nil
}

func (c *AppComponents) CloseAll(ctx context.Context) {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
}
