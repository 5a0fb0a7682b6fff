package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	mw "github.com/cankoe/rcon-event-scheduler/api"
	"github.com/cankoe/rcon-event-scheduler/internal/api"
	"github.com/cankoe/rcon-event-scheduler/internal/generator"
	"github.com/cankoe/rcon-event-scheduler/internal/helpers"
	"github.com/cankoe/rcon-event-scheduler/internal/templates"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := helpers.InitializeCommonComponents(ctx, "api")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer components.CloseAll(context.Background())
	cfg := components.Config

	loader, err := templates.NewLoader(cfg.Templates.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open template directory")
	}
	if cfg.Templates.Watch {
		if err := loader.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Template hot reload disabled")
		}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())

	api.RegisterRoutes(r, api.Deps{
		Store:     components.Store,
		Events:    generator.NewService(components.Store, cfg.Generator.ScoreboardIntervalSeconds),
		Templates: loader,
	})
	api.RegisterAdminRoutes(r, components.Store, cfg.API.AdminKey)
	if cfg.API.AdminKey == "" {
		log.Warn().Msg("ADMIN_API_KEY not provided, admin routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.API.Port).Msg("API server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down API server gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
}
