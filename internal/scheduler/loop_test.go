package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
)

var now = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

type fakeTasks struct {
	pending  []models.Task
	polls    int
	dueErr   error
	nextErr  error
	panicked bool
}

func (f *fakeTasks) DueTasks(_ context.Context, until time.Time) ([]models.Task, error) {
	f.polls++
	if f.panicked {
		panic("driver bug")
	}
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var out []models.Task
	for _, t := range f.pending {
		if !t.Completed && !t.ScheduledTime.After(until) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) NextPendingTaskTime(context.Context) (time.Time, bool, error) {
	if f.nextErr != nil {
		return time.Time{}, false, f.nextErr
	}
	var next time.Time
	ok := false
	for _, t := range f.pending {
		if t.Completed {
			continue
		}
		if !ok || t.ScheduledTime.Before(next) {
			next, ok = t.ScheduledTime, true
		}
	}
	return next, ok, nil
}

func (f *fakeTasks) complete(id int64) {
	for i := range f.pending {
		if f.pending[i].ID == id {
			f.pending[i].Completed = true
		}
	}
}

type recordingExecutor struct {
	tasks *fakeTasks
	ran   []int64
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, task models.Task) error {
	if r.err != nil {
		return r.err
	}
	r.ran = append(r.ran, task.ID)
	r.tasks.complete(task.ID)
	return nil
}

func testConfig() Config {
	return Config{
		CaptureWindow:     30 * time.Second,
		MinSleep:          time.Second,
		MaxSleep:          120 * time.Second,
		FastPollThreshold: 240 * time.Second,
	}
}

func newTestLoop(tasks *fakeTasks, exec Executor) *Loop {
	l := New(tasks, exec, testConfig())
	l.now = func() time.Time { return now }
	return l
}

func TestNextSleep(t *testing.T) {
	l := newTestLoop(&fakeTasks{}, nil)

	cases := []struct {
		name  string
		next  time.Duration
		ok    bool
		sleep time.Duration
	}{
		{"nothing pending", 0, false, 120 * time.Second},
		{"overdue", -time.Minute, true, time.Second},
		{"within threshold", 240 * time.Second, true, time.Second},
		{"halved", 300 * time.Second, true, 120 * time.Second},
		{"halved below max", 241 * time.Second, true, 120500 * time.Millisecond},
		{"capped at max", 2 * time.Hour, true, 120 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.sleep, l.NextSleep(now.Add(tc.next), tc.ok, now))
		})
	}
}

func TestNextSleepHalvingStaysWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSleep = 600 * time.Second
	cfg.FastPollThreshold = 10 * time.Second
	l := New(&fakeTasks{}, nil, cfg)

	assert.Equal(t, 300*time.Second, l.NextSleep(now.Add(600*time.Second), true, now))
	assert.Equal(t, 600*time.Second, l.NextSleep(now.Add(4*time.Hour), true, now))
	assert.Equal(t, 6*time.Second, l.NextSleep(now.Add(12*time.Second), true, now))
}

func TestRunCycleExecutesOnlyDueTasksInOrder(t *testing.T) {
	tasks := &fakeTasks{pending: []models.Task{
		{ID: 1, Name: models.TaskNotify30m, ScheduledTime: now, Priority: 2},
		{ID: 2, Name: models.TaskServerStart, ScheduledTime: now, Priority: 5},
		{ID: 3, Name: models.TaskNotifyStart, ScheduledTime: now.Add(-time.Minute), Priority: 4},
		{ID: 4, Name: models.TaskDisplayScoreboard, ScheduledTime: now.Add(20 * time.Second), Priority: 4},
		{ID: 5, Name: models.TaskServerEnd, ScheduledTime: now.Add(time.Hour), Priority: 5},
	}}
	sortByPriority(tasks.pending)
	exec := &recordingExecutor{tasks: tasks}
	l := newTestLoop(tasks, exec)

	d, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, exec.ran, "fetched-but-not-due task 4 waits")
	assert.Equal(t, time.Second, d, "task 4 is within the fast poll threshold")
}

func sortByPriority(tasks []models.Task) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && models.Less(tasks[j], tasks[j-1]); j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

func TestRunSleepsMaxOnceThenRepolls(t *testing.T) {
	tasks := &fakeTasks{}
	l := newTestLoop(tasks, &recordingExecutor{tasks: tasks})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	pollsAtSleep := []int{}
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		pollsAtSleep = append(pollsAtSleep, tasks.polls)
		if len(slept) == 2 {
			cancel()
		}
		return ctx.Err()
	}

	require.NoError(t, l.Run(ctx))
	require.Len(t, slept, 2)
	assert.Equal(t, 120*time.Second, slept[0])
	assert.Equal(t, []int{1, 2}, pollsAtSleep, "one max sleep between consecutive polls")
}

func TestRunBacksOffOnCycleErrors(t *testing.T) {
	tasks := &fakeTasks{dueErr: errors.New("query timeout")}
	l := newTestLoop(tasks, &recordingExecutor{tasks: tasks})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		tasks.dueErr = nil
		tasks.panicked = len(slept) == 1
		if len(slept) == 3 {
			cancel()
		}
		return ctx.Err()
	}

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, []time.Duration{time.Second, time.Second, 120 * time.Second}, slept)
}

func TestRunStopsWhenStoreUnavailable(t *testing.T) {
	tasks := &fakeTasks{nextErr: fmt.Errorf("next pending task: %w", store.ErrUnavailable)}
	l := newTestLoop(tasks, &recordingExecutor{tasks: tasks})
	l.sleep = func(context.Context, time.Duration) error {
		t.Fatal("loop must not sleep after the store went away")
		return nil
	}

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestRunCyclePropagatesUnavailableFromExecutor(t *testing.T) {
	tasks := &fakeTasks{pending: []models.Task{{ID: 1, Name: models.TaskNotify30m, ScheduledTime: now, Priority: 2}}}
	exec := &recordingExecutor{tasks: tasks, err: fmt.Errorf("mark task 1 completed: %w", store.ErrUnavailable)}
	l := newTestLoop(tasks, exec)

	_, err := l.RunCycle(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestRunCycleContinuesAfterExecutorError(t *testing.T) {
	tasks := &fakeTasks{pending: []models.Task{
		{ID: 1, Name: models.TaskServerStart, ScheduledTime: now, Priority: 5},
		{ID: 2, Name: models.TaskNotifyStart, ScheduledTime: now, Priority: 4},
	}}
	exec := &flakyExecutor{fail: 1, tasks: tasks}
	l := newTestLoop(tasks, exec)

	_, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, exec.seen)
}

type flakyExecutor struct {
	fail  int64
	seen  []int64
	tasks *fakeTasks
}

func (f *flakyExecutor) Execute(_ context.Context, task models.Task) error {
	f.seen = append(f.seen, task.ID)
	if task.ID == f.fail {
		return errors.New("mark task completed: constraint failed")
	}
	f.tasks.complete(task.ID)
	return nil
}
