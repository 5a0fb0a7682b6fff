package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

const (
	eventColumns = `id, unique_event_name, name, event_json, description, start_time, end_time,
		event_in_progress, event_started, event_over, last_scoreboard_time, scoreboard_interval`
	taskColumns = `id, event_id, task_name, scheduled_time, priority, completed,
		execution_length_ms, completed_time`
)

type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLite runs pending migrations on db and returns a store backed by it.
func NewSQLite(ctx context.Context, db *sqlx.DB) (*SQLiteStore, error) {
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, classifySQL("migrate", err)
	}
	return &SQLiteStore{db: db}, nil
}

type eventRow struct {
	ID                 int64          `db:"id"`
	UniqueName         string         `db:"unique_event_name"`
	Name               string         `db:"name"`
	ConfigRef          string         `db:"event_json"`
	Description        string         `db:"description"`
	StartTime          string         `db:"start_time"`
	EndTime            string         `db:"end_time"`
	InProgress         bool           `db:"event_in_progress"`
	Started            bool           `db:"event_started"`
	Over               bool           `db:"event_over"`
	LastScoreboardTime sql.NullString `db:"last_scoreboard_time"`
	ScoreboardInterval int            `db:"scoreboard_interval"`
}

func (r eventRow) model() (models.Event, error) {
	ev := models.Event{
		ID:                 r.ID,
		UniqueName:         r.UniqueName,
		Name:               r.Name,
		ConfigRef:          r.ConfigRef,
		Description:        r.Description,
		Started:            r.Started,
		InProgress:         r.InProgress,
		Over:               r.Over,
		ScoreboardInterval: r.ScoreboardInterval,
	}
	var err error
	if ev.StartTime, err = models.ParseTimestamp(r.StartTime); err != nil {
		return ev, err
	}
	if ev.EndTime, err = models.ParseTimestamp(r.EndTime); err != nil {
		return ev, err
	}
	if r.LastScoreboardTime.Valid {
		t, err := models.ParseTimestamp(r.LastScoreboardTime.String)
		if err != nil {
			return ev, err
		}
		ev.LastScoreboardTime = &t
	}
	return ev, nil
}

type taskRow struct {
	ID                int64          `db:"id"`
	EventID           int64          `db:"event_id"`
	Name              string         `db:"task_name"`
	ScheduledTime     string         `db:"scheduled_time"`
	Priority          int            `db:"priority"`
	Completed         bool           `db:"completed"`
	ExecutionLengthMS int64          `db:"execution_length_ms"`
	CompletedTime     sql.NullString `db:"completed_time"`
}

func (r taskRow) model() (models.Task, error) {
	t := models.Task{
		ID:                r.ID,
		EventID:           r.EventID,
		Name:              r.Name,
		Priority:          r.Priority,
		Completed:         r.Completed,
		ExecutionLengthMS: r.ExecutionLengthMS,
	}
	var err error
	if t.ScheduledTime, err = models.ParseTimestamp(r.ScheduledTime); err != nil {
		return t, err
	}
	if r.CompletedTime.Valid {
		ct, err := models.ParseTimestamp(r.CompletedTime.String)
		if err != nil {
			return t, err
		}
		t.CompletedTime = &ct
	}
	return t, nil
}

func taskModels(rows []taskRow) ([]models.Task, error) {
	tasks := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", r.ID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	var lsb any
	if ev.LastScoreboardTime != nil {
		lsb = models.FormatTimestamp(*ev.LastScoreboardTime)
	}
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `INSERT INTO events (
			unique_event_name, name, event_json, description, start_time, end_time,
			event_in_progress, event_started, event_over, last_scoreboard_time, scoreboard_interval
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.UniqueName, ev.Name, ev.ConfigRef, ev.Description,
			models.FormatTimestamp(ev.StartTime), models.FormatTimestamp(ev.EndTime),
			ev.InProgress, ev.Started, ev.Over, lsb, ev.ScoreboardInterval)
		if err != nil {
			return err
		}
		ev.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return classifySQL("create event", err)
	}
	ev.StartTime = models.Truncate(ev.StartTime)
	ev.EndTime = models.Truncate(ev.EndTime)
	log.Debug().Int64("event_id", ev.ID).Str("unique_event_name", ev.UniqueName).Msg("Event stored")
	return nil
}

func (s *SQLiteStore) getEvent(ctx context.Context, where string, arg any) (*models.Event, error) {
	var row eventRow
	if err := retryOnBusy(ctx, busyRetries, func() error {
		return s.db.GetContext(ctx, &row, `SELECT `+eventColumns+` FROM events WHERE `+where, arg)
	}); err != nil {
		return nil, classifySQL("get event", err)
	}
	ev, err := row.model()
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", row.ID, err)
	}
	return &ev, nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	return s.getEvent(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetEventByUniqueName(ctx context.Context, uniqueName string) (*models.Event, error) {
	return s.getEvent(ctx, "unique_event_name = ?", uniqueName)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, page Page) ([]models.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+eventColumns+` FROM events
		ORDER BY start_time ASC, id ASC LIMIT ? OFFSET ?`, limitOf(page), page.Offset); err != nil {
		return nil, classifySQL("list events", err)
	}
	events := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", r.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *SQLiteStore) DeleteEvent(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete event", `DELETE FROM events WHERE id = ?`, id)
}

func (s *SQLiteStore) StartEvent(ctx context.Context, id int64) error {
	var affected int64
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE events SET event_started = 1, event_in_progress = 1
			WHERE id = ? AND event_over = 0`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return classifySQL("start event", err)
	}
	if affected == 0 {
		// Either missing or already over; flags never move backwards.
		if _, err := s.GetEvent(ctx, id); err != nil {
			return err
		}
		log.Warn().Int64("event_id", id).Msg("Event already over, start flags left unchanged")
	}
	return nil
}

func (s *SQLiteStore) EndEvent(ctx context.Context, id int64) error {
	return s.execOne(ctx, "end event", `UPDATE events SET event_in_progress = 0, event_over = 1 WHERE id = ?`, id)
}

func (s *SQLiteStore) UpdateScoreboardTime(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "update scoreboard time",
		`UPDATE events SET last_scoreboard_time = ? WHERE id = ?`, models.FormatTimestamp(at), id)
}

// execOne runs a statement that must touch exactly one row.
func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...any) error {
	var affected int64
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return classifySQL(op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) InsertTasks(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PreparexContext(ctx, `INSERT INTO event_tasks (event_id, task_name, scheduled_time, priority)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		ids := make([]int64, len(tasks))
		for i, t := range tasks {
			res, err := stmt.ExecContext(ctx, t.EventID, t.Name, models.FormatTimestamp(t.ScheduledTime), t.Priority)
			if err != nil {
				return err
			}
			if ids[i], err = res.LastInsertId(); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		for i := range tasks {
			tasks[i].ID = ids[i]
			tasks[i].ScheduledTime = models.Truncate(tasks[i].ScheduledTime)
		}
		return nil
	})
	return classifySQL("insert tasks", err)
}

func (s *SQLiteStore) DueTasks(ctx context.Context, until time.Time) ([]models.Task, error) {
	var rows []taskRow
	if err := retryOnBusy(ctx, busyRetries, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM event_tasks
			WHERE completed = 0 AND scheduled_time <= ?
			ORDER BY priority DESC, scheduled_time ASC, id ASC`, models.FormatTimestamp(until))
	}); err != nil {
		return nil, classifySQL("due tasks", err)
	}
	return taskModels(rows)
}

func (s *SQLiteStore) NextPendingTaskTime(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullString
	if err := retryOnBusy(ctx, busyRetries, func() error {
		return s.db.GetContext(ctx, &next, `SELECT MIN(scheduled_time) FROM event_tasks WHERE completed = 0`)
	}); err != nil {
		return time.Time{}, false, classifySQL("next pending task", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	t, err := models.ParseTimestamp(next.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) MarkTaskCompleted(ctx context.Context, id int64, durationMS int64, at time.Time) (bool, error) {
	var affected int64
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE event_tasks
			SET completed = 1, execution_length_ms = ?, completed_time = ?
			WHERE id = ? AND completed = 0`, durationMS, models.FormatTimestamp(at), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, classifySQL("mark task completed", err)
	}
	return affected == 1, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM event_tasks WHERE 1 = 1`
	var args []any
	if filter.EventID != 0 {
		query += ` AND event_id = ?`
		args = append(args, filter.EventID)
	}
	if filter.PendingOnly {
		query += ` AND completed = 0`
	}
	query += ` ORDER BY scheduled_time ASC, priority DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limitOf(filter.Page), filter.Offset)

	var rows []taskRow
	if err := retryOnBusy(ctx, busyRetries, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, query, args...)
	}); err != nil {
		return nil, classifySQL("list tasks", err)
	}
	return taskModels(rows)
}

func (s *SQLiteStore) DeletePendingTask(ctx context.Context, id int64) error {
	err := s.execOne(ctx, "delete task", `DELETE FROM event_tasks WHERE id = ? AND completed = 0`, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return err
	}
	var exists bool
	if qerr := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM event_tasks WHERE id = ?)`, id); qerr != nil {
		return classifySQL("delete task", qerr)
	}
	if exists {
		return fmt.Errorf("delete task %d: already completed: %w", id, ErrConflict)
	}
	return err
}

func (s *SQLiteStore) RecordNotification(ctx context.Context, eventID int64, kind models.NotificationKind, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown notification type %q", kind)
	}
	err := retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO event_notifications (event_id, notification_type, sent_at)
			VALUES (?, ?, ?)`, eventID, string(kind), models.FormatTimestamp(at))
		return err
	})
	return classifySQL("record notification", err)
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, eventID int64) ([]models.Notification, error) {
	var rows []struct {
		ID      int64  `db:"id"`
		EventID int64  `db:"event_id"`
		Kind    string `db:"notification_type"`
		SentAt  string `db:"sent_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, event_id, notification_type, sent_at
		FROM event_notifications WHERE event_id = ? ORDER BY id ASC`, eventID); err != nil {
		return nil, classifySQL("list notifications", err)
	}
	out := make([]models.Notification, 0, len(rows))
	for _, r := range rows {
		sent, err := models.ParseTimestamp(r.SentAt)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Notification{ID: r.ID, EventID: r.EventID, Kind: models.NotificationKind(r.Kind), SentAt: sent})
	}
	return out, nil
}

func (s *SQLiteStore) SaveWinners(ctx context.Context, eventID int64, winners []models.Winner) error {
	if len(winners) == 0 {
		return nil
	}
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for _, w := range winners {
			if _, err := tx.ExecContext(ctx, `INSERT INTO event_winners
				(event_id, player_name, final_score, was_online, rewarded_at) VALUES (?, ?, ?, ?, ?)`,
				eventID, w.PlayerName, w.FinalScore, w.WasOnline, models.FormatTimestamp(w.RewardedAt)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return classifySQL("save winners", err)
}

func (s *SQLiteStore) ListWinners(ctx context.Context, eventID int64) ([]models.Winner, error) {
	var rows []struct {
		ID         int64  `db:"id"`
		EventID    int64  `db:"event_id"`
		PlayerName string `db:"player_name"`
		FinalScore int    `db:"final_score"`
		WasOnline  bool   `db:"was_online"`
		RewardedAt string `db:"rewarded_at"`
	}
	if err := retryOnBusy(ctx, busyRetries, func() error {
		rows = nil
		return s.db.SelectContext(ctx, &rows, `SELECT id, event_id, player_name, final_score, was_online, rewarded_at
			FROM event_winners WHERE event_id = ? ORDER BY final_score DESC, id ASC`, eventID)
	}); err != nil {
		return nil, classifySQL("list winners", err)
	}
	out := make([]models.Winner, 0, len(rows))
	for _, r := range rows {
		at, err := models.ParseTimestamp(r.RewardedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Winner{
			ID: r.ID, EventID: r.EventID, PlayerName: r.PlayerName,
			FinalScore: r.FinalScore, WasOnline: r.WasOnline, RewardedAt: at,
		})
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classifySQL("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func limitOf(p Page) int {
	if p.Limit <= 0 {
		return -1
	}
	return p.Limit
}
