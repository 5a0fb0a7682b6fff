package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cankoe/rcon-event-scheduler/internal/database"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

var base = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "events.db"), time.Second)
	require.NoError(t, err)
	s, err := NewSQLite(ctx, db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMongoStore(t *testing.T) Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := database.NewMongoClient(ctx, uri)
	require.NoError(t, err)
	dbName := fmt.Sprintf("event_scheduler_test_%d", time.Now().UnixNano())
	s, err := NewMongo(ctx, client, dbName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = s.Close()
	})
	return s
}

var backends = map[string]func(*testing.T) Store{
	"sqlite": newSQLiteStore,
	"mongo":  newMongoStore,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func createEvent(t *testing.T, s Store, unique string) *models.Event {
	t.Helper()
	ev := &models.Event{
		UniqueName:         unique,
		Name:               "Mining Madness",
		ConfigRef:          "mining.json",
		Description:        "Mine as much as you can",
		StartTime:          base,
		EndTime:            base.Add(time.Hour),
		ScoreboardInterval: 600,
	}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	require.NotZero(t, ev.ID)
	return ev
}

func TestStoreEventLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ev := createEvent(t, s, "Mining-Madness-06-01-2026-1800")

		got, err := s.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, "mining.json", got.ConfigRef)
		assert.Equal(t, base, got.StartTime)
		assert.False(t, got.Started || got.InProgress || got.Over)
		assert.Nil(t, got.LastScoreboardTime)

		byName, err := s.GetEventByUniqueName(ctx, ev.UniqueName)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, byName.ID)

		dup := *ev
		err = s.CreateEvent(ctx, &dup)
		assert.ErrorIs(t, err, ErrConflict)

		require.NoError(t, s.StartEvent(ctx, ev.ID))
		got, err = s.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.True(t, got.Started)
		assert.True(t, got.InProgress)

		shown := base.Add(10 * time.Minute)
		require.NoError(t, s.UpdateScoreboardTime(ctx, ev.ID, shown))

		require.NoError(t, s.EndEvent(ctx, ev.ID))
		require.NoError(t, s.StartEvent(ctx, ev.ID))
		got, err = s.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.True(t, got.Over)
		assert.False(t, got.InProgress)
		require.NotNil(t, got.LastScoreboardTime)
		assert.Equal(t, shown, *got.LastScoreboardTime)

		_, err = s.GetEvent(ctx, ev.ID+1000)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.StartEvent(ctx, ev.ID+1000), ErrNotFound)
		assert.ErrorIs(t, s.EndEvent(ctx, ev.ID+1000), ErrNotFound)
	})
}

func TestStoreRejectsInvalidWindow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ev := &models.Event{UniqueName: "x", Name: "x", StartTime: base, EndTime: base}
		assert.Error(t, s.CreateEvent(context.Background(), ev))
	})
}

func TestStoreDueTasksOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ev := createEvent(t, s, "ordering")

		tasks := []models.Task{
			{EventID: ev.ID, Name: models.TaskNotifyStart, ScheduledTime: base, Priority: models.PriorityAnnounce},
			{EventID: ev.ID, Name: models.TaskNotify30m, ScheduledTime: base.Add(-30 * time.Minute), Priority: models.PriorityReminder},
			{EventID: ev.ID, Name: models.TaskServerStart, ScheduledTime: base, Priority: models.PriorityServer},
			{EventID: ev.ID, Name: models.TaskServerEnd, ScheduledTime: base.Add(time.Hour), Priority: models.PriorityServer},
		}
		require.NoError(t, s.InsertTasks(ctx, tasks))
		for _, task := range tasks {
			assert.NotZero(t, task.ID)
		}

		due, err := s.DueTasks(ctx, base.Add(30*time.Second))
		require.NoError(t, err)
		var names []string
		for _, task := range due {
			names = append(names, task.Name)
		}
		assert.Equal(t, []string{models.TaskServerStart, models.TaskNotifyStart, models.TaskNotify30m}, names)

		next, ok, err := s.NextPendingTaskTime(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, base.Add(-30*time.Minute), next)
	})
}

func TestStoreNextPendingTaskTimeEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, ok, err := s.NextPendingTaskTime(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStoreMarkTaskCompletedOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ev := createEvent(t, s, "complete-once")
		tasks := []models.Task{{EventID: ev.ID, Name: models.TaskServerStart, ScheduledTime: base, Priority: 5}}
		require.NoError(t, s.InsertTasks(ctx, tasks))

		doneAt := base.Add(2 * time.Second)
		updated, err := s.MarkTaskCompleted(ctx, tasks[0].ID, 1234, doneAt)
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = s.MarkTaskCompleted(ctx, tasks[0].ID, 99, doneAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, updated)

		list, err := s.ListTasks(ctx, TaskFilter{EventID: ev.ID})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].Completed)
		assert.EqualValues(t, 1234, list[0].ExecutionLengthMS)
		require.NotNil(t, list[0].CompletedTime)
		assert.Equal(t, doneAt, *list[0].CompletedTime)

		due, err := s.DueTasks(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, due)
		_, ok, err := s.NextPendingTaskTime(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStoreDeleteEventCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ev := createEvent(t, s, "cascade")
		keep := createEvent(t, s, "keep")

		require.NoError(t, s.InsertTasks(ctx, []models.Task{
			{EventID: ev.ID, Name: models.TaskServerStart, ScheduledTime: base, Priority: 5},
			{EventID: keep.ID, Name: models.TaskServerStart, ScheduledTime: base, Priority: 5},
		}))
		require.NoError(t, s.RecordNotification(ctx, ev.ID, models.Notification24h, base))
		require.NoError(t, s.SaveWinners(ctx, ev.ID, []models.Winner{{PlayerName: "Steve", FinalScore: 3, RewardedAt: base}}))

		require.NoError(t, s.DeleteEvent(ctx, ev.ID))
		assert.ErrorIs(t, s.DeleteEvent(ctx, ev.ID), ErrNotFound)

		tasks, err := s.ListTasks(ctx, TaskFilter{})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, keep.ID, tasks[0].EventID)

		winners, err := s.ListWinners(ctx, ev.ID)
		require.NoError(t, err)
		assert.Empty(t, winners)
		notes, err := s.ListNotifications(ctx, ev.ID)
		require.NoError(t, err)
		assert.Empty(t, notes)
	})
}

func TestStoreWinnersAndNotifications(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ev := createEvent(t, s, "winners")

		require.NoError(t, s.SaveWinners(ctx, ev.ID, []models.Winner{
			{PlayerName: "Alex", FinalScore: 12, WasOnline: false, RewardedAt: base},
			{PlayerName: "Steve", FinalScore: 12, WasOnline: true, RewardedAt: base},
		}))
		winners, err := s.ListWinners(ctx, ev.ID)
		require.NoError(t, err)
		require.Len(t, winners, 2)
		assert.Equal(t, "Alex", winners[0].PlayerName)
		assert.True(t, winners[1].WasOnline)
		assert.Equal(t, 12, winners[0].FinalScore)

		require.NoError(t, s.RecordNotification(ctx, ev.ID, models.NotificationStart, base))
		assert.Error(t, s.RecordNotification(ctx, ev.ID, models.NotificationKind("weekly"), base))
		notes, err := s.ListNotifications(ctx, ev.ID)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, models.NotificationStart, notes[0].Kind)
	})
}

func TestStoreDeletePendingTask(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ev := createEvent(t, s, "delete-task")
		tasks := []models.Task{
			{EventID: ev.ID, Name: models.TaskNotify24h, ScheduledTime: base.Add(-24 * time.Hour), Priority: 2},
			{EventID: ev.ID, Name: models.TaskNotify30m, ScheduledTime: base.Add(-30 * time.Minute), Priority: 2},
		}
		require.NoError(t, s.InsertTasks(ctx, tasks))
		_, err := s.MarkTaskCompleted(ctx, tasks[0].ID, 10, base)
		require.NoError(t, err)

		assert.ErrorIs(t, s.DeletePendingTask(ctx, tasks[0].ID), ErrConflict)
		require.NoError(t, s.DeletePendingTask(ctx, tasks[1].ID))
		assert.ErrorIs(t, s.DeletePendingTask(ctx, tasks[1].ID), ErrNotFound)

		pending, err := s.ListTasks(ctx, TaskFilter{EventID: ev.ID, PendingOnly: true})
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestSQLiteTriggersRejectMalformedTimestamps(t *testing.T) {
	s := newSQLiteStore(t).(*SQLiteStore)
	ctx := context.Background()
	ev := createEvent(t, s, "triggers")

	_, err := s.db.ExecContext(ctx, `INSERT INTO event_tasks (event_id, task_name, scheduled_time, priority)
		VALUES (?, ?, ?, ?)`, ev.ID, models.TaskServerStart, "2026-06-01 18:00:00", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DDTHH:MM:SSZ")

	_, err = s.db.ExecContext(ctx, `UPDATE events SET last_scoreboard_time = ? WHERE id = ?`, "yesterday", ev.ID)
	assert.Error(t, err)
}

func TestSQLiteMigrationsRunOnce(t *testing.T) {
	s := newSQLiteStore(t).(*SQLiteStore)
	ctx := context.Background()

	require.NoError(t, migrate(ctx, s.db))

	var versions []int
	require.NoError(t, s.db.SelectContext(ctx, &versions, `SELECT version FROM Migrations WHERE success = 1 ORDER BY version`))
	assert.Equal(t, []int{1, 2}, versions)
}

func TestSQLiteClosedStoreIsUnavailable(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.NextPendingTaskTime(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnBusy(context.Background(), 3, func() error {
		calls++
		return errors.New("syntax error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMongoDeleteEventRepeatableAfterPartialPurge(t *testing.T) {
	s := newMongoStore(t).(*MongoStore)
	ctx := context.Background()
	ev := createEvent(t, s, "partial")
	require.NoError(t, s.InsertTasks(ctx, []models.Task{
		{EventID: ev.ID, Name: models.TaskServerStart, ScheduledTime: base, Priority: 5},
	}))
	require.NoError(t, s.SaveWinners(ctx, ev.ID, []models.Winner{{PlayerName: "Steve", FinalScore: 3, RewardedAt: base}}))

	// A purge that stopped after the tasks leaves the event reachable.
	_, err := s.tasks.DeleteMany(ctx, bson.M{"event_id": ev.ID})
	require.NoError(t, err)
	_, err = s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteEvent(ctx, ev.ID))
	winners, err := s.ListWinners(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, winners)
	_, err = s.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
