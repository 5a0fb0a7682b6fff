// Package store persists events, their scheduled tasks, notification markers
// and winners. Two backends share one contract: SQLite (default) and MongoDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
	"github.com/cankoe/rcon-event-scheduler/internal/database"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrUnavailable marks failures of the backing database itself. Callers
	// treat it as fatal and let the process supervisor restart them.
	ErrUnavailable = errors.New("store unavailable")
)

type EventStore interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	GetEventByUniqueName(ctx context.Context, uniqueName string) (*models.Event, error)
	ListEvents(ctx context.Context, page Page) ([]models.Event, error)
	// DeleteEvent removes the event and everything that belongs to it.
	DeleteEvent(ctx context.Context, id int64) error
	// StartEvent sets started and in_progress unless the event is already over.
	StartEvent(ctx context.Context, id int64) error
	// EndEvent clears in_progress and sets over.
	EndEvent(ctx context.Context, id int64) error
	UpdateScoreboardTime(ctx context.Context, id int64, at time.Time) error
}

type TaskStore interface {
	// InsertTasks writes all tasks atomically and fills in their ids.
	InsertTasks(ctx context.Context, tasks []models.Task) error
	// DueTasks returns pending tasks scheduled at or before until, ordered by
	// priority desc, scheduled time asc, id asc.
	DueTasks(ctx context.Context, until time.Time) ([]models.Task, error)
	// NextPendingTaskTime returns the earliest scheduled time of any pending
	// task; ok is false when nothing is pending.
	NextPendingTaskTime(ctx context.Context) (next time.Time, ok bool, err error)
	// MarkTaskCompleted finalizes a pending task. It reports false without
	// error when the task was already completed.
	MarkTaskCompleted(ctx context.Context, id int64, durationMS int64, at time.Time) (bool, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error)
	DeletePendingTask(ctx context.Context, id int64) error
}

type AuditStore interface {
	RecordNotification(ctx context.Context, eventID int64, kind models.NotificationKind, at time.Time) error
	ListNotifications(ctx context.Context, eventID int64) ([]models.Notification, error)
	SaveWinners(ctx context.Context, eventID int64, winners []models.Winner) error
	// ListWinners orders by final score desc.
	ListWinners(ctx context.Context, eventID int64) ([]models.Winner, error)
}

type Store interface {
	EventStore
	TaskStore
	AuditStore
	Ping(ctx context.Context) error
	Close() error
}

type Page struct {
	Limit  int
	Offset int
}

type TaskFilter struct {
	EventID     int64
	PendingOnly bool
	Page
}

// Open connects to the configured backend and brings its schema up to date.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		db, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath, time.Duration(cfg.Store.BusyTimeoutMS)*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return NewSQLite(ctx, db)
	case "mongo":
		client, err := database.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return NewMongo(ctx, client, cfg.Mongo.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func validateEvent(ev *models.Event) error {
	if ev.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if ev.UniqueName == "" {
		return fmt.Errorf("event unique name is required")
	}
	if !models.Truncate(ev.StartTime).Before(models.Truncate(ev.EndTime)) {
		return fmt.Errorf("event start %s must be before end %s",
			models.FormatTimestamp(ev.StartTime), models.FormatTimestamp(ev.EndTime))
	}
	return nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MongoStore)(nil)
)
