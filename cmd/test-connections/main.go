package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/helpers"
	"github.com/cankoe/rcon-event-scheduler/internal/rcon"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	components, err := helpers.InitializeCommonComponents(ctx, "test-connections")
	if err != nil {
		log.Fatal().Err(err).Msg("Connection setup failed")
	}
	defer components.CloseAll(context.Background())
	cfg := components.Config

	if err := components.Store.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Store connection failed")
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("Store connected successfully!")

	if components.RedisClient != nil {
		if err := components.RedisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("Redis connection failed")
		}
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("Redis connected successfully!")
	}

	if err := rcon.NewClient(cfg.RCON).Health(ctx); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RCON.Addr()).Msg("RCON connection failed")
	}
	log.Info().Str("addr", cfg.RCON.Addr()).Msg("RCON connected successfully!")
}
