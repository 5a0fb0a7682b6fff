// Package scheduler polls the task store and hands due tasks to the executor,
// adapting its sleep to how close the next pending task is.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
	"github.com/cankoe/rcon-event-scheduler/internal/telemetry"
)

type TaskSource interface {
	DueTasks(ctx context.Context, until time.Time) ([]models.Task, error)
	NextPendingTaskTime(ctx context.Context) (time.Time, bool, error)
}

type Executor interface {
	Execute(ctx context.Context, task models.Task) error
}

type Config struct {
	// CaptureWindow is the lookahead used when fetching candidates.
	CaptureWindow time.Duration
	MinSleep      time.Duration
	MaxSleep      time.Duration
	// FastPollThreshold switches to MinSleep when the next task is this close.
	FastPollThreshold time.Duration
	Metrics           *telemetry.Metrics
}

func ConfigFrom(c config.SchedulerConfig, m *telemetry.Metrics) Config {
	return Config{
		CaptureWindow:     c.CaptureWindow(),
		MinSleep:          c.MinSleep(),
		MaxSleep:          c.MaxSleep(),
		FastPollThreshold: c.FastPollThreshold(),
		Metrics:           m,
	}
}

type Loop struct {
	tasks TaskSource
	exec  Executor
	cfg   Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(tasks TaskSource, exec Executor, cfg Config) *Loop {
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopMetrics()
	}
	return &Loop{tasks: tasks, exec: exec, cfg: cfg, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NextSleep picks the pause before the next poll given the nearest pending
// task time, if any.
func (l *Loop) NextSleep(next time.Time, ok bool, now time.Time) time.Duration {
	if !ok {
		return l.cfg.MaxSleep
	}
	until := next.Sub(now)
	if until <= l.cfg.FastPollThreshold {
		return l.cfg.MinSleep
	}
	return min(l.cfg.MaxSleep, max(l.cfg.MinSleep, until/2))
}

// RunCycle executes every due task once and returns how long to sleep.
func (l *Loop) RunCycle(ctx context.Context) (time.Duration, error) {
	cycleID := uuid.NewString()
	logger := log.With().Str("cycle_id", cycleID).Logger()
	l.cfg.Metrics.PollCycles.Add(ctx, 1)

	now := l.now()
	candidates, err := l.tasks.DueTasks(ctx, now.Add(l.cfg.CaptureWindow))
	if err != nil {
		return 0, fmt.Errorf("fetch due tasks: %w", err)
	}

	executed := 0
	for _, task := range candidates {
		if !task.Due(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := l.exec.Execute(ctx, task); err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return 0, err
			}
			logger.Error().Err(err).Int64("task_id", task.ID).Msg("Task execution failed")
			continue
		}
		executed++
	}

	next, ok, err := l.tasks.NextPendingTaskTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("next pending task: %w", err)
	}
	d := l.NextSleep(next, ok, l.now())

	ev := logger.Debug().Int("candidates", len(candidates)).Int("executed", executed).Dur("sleep", d)
	if ok {
		ev = ev.Str("next_task_at", models.FormatTimestamp(next))
	}
	ev.Msg("Poll cycle finished")
	return d, nil
}

func (l *Loop) safeCycle(ctx context.Context) (d time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Poll cycle panicked")
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()
	return l.RunCycle(ctx)
}

// Run polls until ctx is cancelled. It returns an error only when the store
// is unavailable.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().
		Dur("capture_window", l.cfg.CaptureWindow).
		Dur("min_sleep", l.cfg.MinSleep).
		Dur("max_sleep", l.cfg.MaxSleep).
		Msg("Scheduler loop started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Scheduler loop stopped")
			return nil
		}

		d, err := l.safeCycle(ctx)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				log.Error().Err(err).Msg("Store unavailable, stopping scheduler loop")
				return err
			}
			if ctx.Err() != nil {
				continue
			}
			l.cfg.Metrics.LoopErrors.Add(ctx, 1)
			log.Error().Err(err).Dur("retry_in", l.cfg.MinSleep).Msg("Poll cycle failed")
			d = l.cfg.MinSleep
		}

		// Cancellation is observed at the top of the loop.
		_ = l.sleep(ctx, d)
	}
}
