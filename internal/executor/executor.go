// Package executor runs a single scheduled task: it maps the task name to an
// action, times it and writes the completion record exactly once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cankoe/rcon-event-scheduler/internal/gameserver"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
	"github.com/cankoe/rcon-event-scheduler/internal/notify"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
	"github.com/cankoe/rcon-event-scheduler/internal/telemetry"
)

// Store is the subset of store.Store the executor writes to.
type Store interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	StartEvent(ctx context.Context, id int64) error
	EndEvent(ctx context.Context, id int64) error
	UpdateScoreboardTime(ctx context.Context, id int64, at time.Time) error
	MarkTaskCompleted(ctx context.Context, id int64, durationMS int64, at time.Time) (bool, error)
	RecordNotification(ctx context.Context, eventID int64, kind models.NotificationKind, at time.Time) error
	ListWinners(ctx context.Context, eventID int64) ([]models.Winner, error)
}

// Server runs the in-game sequences.
type Server interface {
	Start(ctx context.Context, ev *models.Event) error
	DisplayScoreboard(ctx context.Context, ev *models.Event) error
	Close(ctx context.Context, ev *models.Event) (gameserver.Outcome, error)
}

type Config struct {
	// SettleDelay is waited after the closing sequence before the event is marked over.
	SettleDelay time.Duration
	Metrics     *telemetry.Metrics
	Tracer      trace.Tracer
}

type Executor struct {
	store    Store
	server   Server
	notifier notify.Notifier
	cfg      Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(st Store, srv Server, n notify.Notifier, cfg Config) *Executor {
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Noop().Tracer
	}
	return &Executor{
		store:    st,
		server:   srv,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var notificationKinds = map[string]models.NotificationKind{
	models.TaskNotify24h:   models.Notification24h,
	models.TaskNotify30m:   models.Notification30m,
	models.TaskNotifyStart: models.NotificationStart,
}

var (
	// errSkipped marks tasks that complete with zero duration without running anything.
	errSkipped = errors.New("task skipped")
	// errDeferred leaves the task pending for the next cycle. Nothing remote has run yet.
	errDeferred = errors.New("task deferred")
)

// Execute runs task and records its completion. Action failures are logged
// and swallowed; only store errors from the event lookup or the final write
// are returned. Once started, the action ignores cancellation of ctx.
func (e *Executor) Execute(ctx context.Context, task models.Task) error {
	logger := log.With().
		Int64("task_id", task.ID).
		Int64("event_id", task.EventID).
		Str("task_name", task.Name).
		Logger()

	ctx, span := e.cfg.Tracer.Start(ctx, "task "+task.Name, trace.WithAttributes(
		attribute.Int64("task.id", task.ID),
		attribute.Int64("event.id", task.EventID),
		attribute.String("task.name", task.Name),
	))
	defer span.End()

	start := e.now()
	err := e.dispatch(context.WithoutCancel(ctx), logger, task)
	elapsed := e.now().Sub(start)

	var storeErr error
	switch {
	case errors.Is(err, errSkipped):
		elapsed = 0
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, errDeferred):
		storeErr = err
	case err != nil:
		logger.Error().Err(err).Msg("Task action failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.cfg.Metrics.TaskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task.name", task.Name)))
	}
	if storeErr != nil {
		span.RecordError(storeErr)
		return storeErr
	}

	ms := elapsed.Milliseconds()
	// The completion write must land even when the caller is shutting down.
	updated, err := e.store.MarkTaskCompleted(context.WithoutCancel(ctx), task.ID, ms, e.now())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark task %d completed: %w", task.ID, err)
	}
	if !updated {
		logger.Warn().Msg("Task was already completed, keeping first result")
		return nil
	}

	attrs := metric.WithAttributes(attribute.String("task.name", task.Name))
	e.cfg.Metrics.TasksExecuted.Add(ctx, 1, attrs)
	e.cfg.Metrics.TaskDuration.Record(ctx, elapsed.Seconds(), attrs)
	logger.Info().Int64("duration_ms", ms).Msg("Task completed")
	return nil
}

// dispatch runs the action for task. Panics are converted into errors.
func (e *Executor) dispatch(ctx context.Context, logger zerolog.Logger, task models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Task action panicked")
			err = fmt.Errorf("task %d panicked: %v", task.ID, r)
		}
	}()

	if !models.KnownTask(task.Name) {
		logger.Error().Msg("Unknown task name")
		return errSkipped
	}

	ev, err := e.store.GetEvent(ctx, task.EventID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Error().Msg("Task refers to a missing event")
		return errSkipped
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("load event %d: %w", task.EventID, err)
	case err != nil:
		logger.Warn().Err(err).Msg("Event lookup failed, task stays pending")
		return fmt.Errorf("load event %d: %w: %w", task.EventID, errDeferred, err)
	}

	if kind, ok := notificationKinds[task.Name]; ok {
		return e.sendNotification(ctx, logger, ev, kind, notify.Payload{})
	}

	switch task.Name {
	case models.TaskServerStart:
		return e.startEvent(ctx, logger, ev)
	case models.TaskDisplayScoreboard:
		return e.displayScoreboard(ctx, logger, ev)
	case models.TaskServerEnd:
		return e.endEvent(ctx, logger, ev)
	case models.TaskNotifyResults:
		return e.notifyResults(ctx, logger, ev)
	}
	return errSkipped
}

func (e *Executor) sendNotification(ctx context.Context, logger zerolog.Logger, ev *models.Event, kind models.NotificationKind, p notify.Payload) error {
	if err := e.notifier.Notify(ctx, kind, ev, p); err != nil {
		return fmt.Errorf("send %s notification: %w", kind, err)
	}
	if err := e.store.RecordNotification(ctx, ev.ID, kind, e.now()); err != nil {
		logger.Warn().Err(err).Msg("Failed to record notification marker")
	}
	logger.Info().Str("notification_type", string(kind)).Msg("Notification sent")
	return nil
}

func (e *Executor) startEvent(ctx context.Context, logger zerolog.Logger, ev *models.Event) error {
	actionErr := e.server.Start(ctx, ev)
	if actionErr != nil {
		logger.Error().Err(actionErr).Msg("Start sequence failed, marking event started anyway")
	}
	if err := e.store.StartEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("start event %d: %w", ev.ID, err)
	}
	return actionErr
}

func (e *Executor) displayScoreboard(ctx context.Context, logger zerolog.Logger, ev *models.Event) error {
	actionErr := e.server.DisplayScoreboard(ctx, ev)
	if actionErr != nil {
		logger.Error().Err(actionErr).Msg("Scoreboard display failed")
	}
	if err := e.store.UpdateScoreboardTime(ctx, ev.ID, e.now()); err != nil {
		return fmt.Errorf("update scoreboard time for event %d: %w", ev.ID, err)
	}
	return actionErr
}

func (e *Executor) endEvent(ctx context.Context, logger zerolog.Logger, ev *models.Event) error {
	outcome, actionErr := e.server.Close(ctx, ev)
	if actionErr != nil {
		logger.Error().Err(actionErr).Msg("Closing sequence failed, marking event over anyway")
	} else {
		logger.Info().Strs("leaders", outcome.Leaders).Int("score", outcome.Score).Msg("Closing sequence finished")
	}

	if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
		logger.Warn().Err(err).Msg("Settle delay interrupted")
	}
	if err := e.store.EndEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("end event %d: %w", ev.ID, err)
	}
	return actionErr
}

func (e *Executor) notifyResults(ctx context.Context, logger zerolog.Logger, ev *models.Event) error {
	winners, err := e.store.ListWinners(ctx, ev.ID)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return fmt.Errorf("list winners for event %d: %w", ev.ID, err)
		}
		logger.Warn().Err(err).Msg("Winner lookup failed, task stays pending")
		return fmt.Errorf("list winners for event %d: %w: %w", ev.ID, errDeferred, err)
	}
	p := notify.Payload{Winners: []string{models.NoParticipants}}
	if len(winners) > 0 {
		p = notify.Payload{Score: winners[0].FinalScore}
		for _, w := range winners {
			p.Winners = append(p.Winners, w.PlayerName)
		}
	}
	return e.sendNotification(ctx, logger, ev, models.NotificationEnd, p)
}
