package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cankoe/rcon-event-scheduler/internal/executor"
	"github.com/cankoe/rcon-event-scheduler/internal/gameserver"
	"github.com/cankoe/rcon-event-scheduler/internal/helpers"
	"github.com/cankoe/rcon-event-scheduler/internal/lease"
	"github.com/cankoe/rcon-event-scheduler/internal/notify"
	"github.com/cankoe/rcon-event-scheduler/internal/rcon"
	"github.com/cankoe/rcon-event-scheduler/internal/scheduler"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
	"github.com/cankoe/rcon-event-scheduler/internal/telemetry"
	"github.com/cankoe/rcon-event-scheduler/internal/templates"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Scheduler exited with error")
	}
	log.Info().Msg("Scheduler service exited gracefully")
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal %s, shutting down Scheduler gracefully...", sig)
		cancel()
	}()

	components, err := helpers.InitializeCommonComponents(ctx, "scheduler")
	if err != nil {
		return err
	}
	defer components.CloseAll(context.Background())
	cfg := components.Config

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()
	metrics, err := telemetry.NewMetrics(tp.Meter)
	if err != nil {
		return err
	}

	loader, err := templates.NewLoader(cfg.Templates.Dir)
	if err != nil {
		return err
	}
	if cfg.Templates.Watch {
		if err := loader.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Template hot reload disabled")
		}
	}

	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		return err
	}

	rconClient := rcon.NewClient(cfg.RCON)
	runner := gameserver.NewRunner(rconClient, loader, components.Store)
	exec := executor.New(components.Store, runner, notifier, executor.Config{
		SettleDelay: cfg.Scheduler.SettleDelay(),
		Metrics:     metrics,
		Tracer:      tp.Tracer,
	})
	loop := scheduler.New(components.Store, exec, scheduler.ConfigFrom(cfg.Scheduler, metrics))

	g, gctx := errgroup.WithContext(ctx)

	if components.RedisClient != nil {
		l := lease.New(components.RedisClient, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL())
		log.Info().Str("lease_key", cfg.Redis.LeaseKey).Str("token", l.Token()).Msg("Waiting for scheduler lease")
		if err := l.WaitAcquire(ctx, cfg.Redis.LeaseTTL()/2); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		defer func() {
			if err := l.Release(context.Background()); err != nil && !errors.Is(err, lease.ErrLost) {
				log.Warn().Err(err).Msg("Failed to release scheduler lease")
			}
		}()
		g.Go(func() error { return l.KeepAlive(gctx) })
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.RCON.HealthCheckSchedule, func() {
		if err := rconClient.Health(gctx); err != nil {
			log.Warn().Err(err).Str("rcon_addr", cfg.RCON.Addr()).Msg("RCON health check failed")
			return
		}
		log.Debug().Str("rcon_addr", cfg.RCON.Addr()).Msg("RCON health check passed")
	}); err != nil {
		log.Warn().Err(err).Str("schedule", cfg.RCON.HealthCheckSchedule).Msg("Invalid RCON health check schedule, probe disabled")
	}
	c.Start()
	defer c.Stop()

	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		watchdog(gctx, components.Store)
		return nil
	})

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("systemd notify failed")
	}

	err = g.Wait()
	cancel()
	return err
}

// watchdog pings systemd while the store answers. It returns immediately when
// the unit has no watchdog configured.
func watchdog(ctx context.Context, st store.Store) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	log.Info().Dur("interval", interval).Msg("Activating systemd watchdog goroutine")
	ticker := time.NewTicker(interval / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.Ping(ctx); err == nil {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}
