// Package generator turns an event window into its fixed set of scheduled tasks.
package generator

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

const (
	reminder24h   = 24 * time.Hour
	reminder30m   = 30 * time.Minute
	resultsOffset = 5 * time.Minute
)

// Plan computes the tasks for an event running from start to end. Only tasks
// scheduled strictly after now are returned, ordered the way the scheduler
// executes them. An interval under one second disables scoreboard displays.
func Plan(eventID int64, start, end, now time.Time, interval time.Duration) []models.Task {
	start, end, now = models.Truncate(start), models.Truncate(end), models.Truncate(now)
	if !start.Before(end) {
		return nil
	}

	tasks := []models.Task{
		{Name: models.TaskNotify24h, ScheduledTime: start.Add(-reminder24h), Priority: models.PriorityReminder},
		{Name: models.TaskNotify30m, ScheduledTime: start.Add(-reminder30m), Priority: models.PriorityReminder},
		{Name: models.TaskNotifyStart, ScheduledTime: start, Priority: models.PriorityAnnounce},
		{Name: models.TaskServerStart, ScheduledTime: start, Priority: models.PriorityServer},
	}
	for _, at := range ScoreboardTimes(start, end, interval) {
		tasks = append(tasks, models.Task{Name: models.TaskDisplayScoreboard, ScheduledTime: at, Priority: models.PriorityDisplay})
	}
	tasks = append(tasks,
		models.Task{Name: models.TaskServerEnd, ScheduledTime: end, Priority: models.PriorityServer},
		models.Task{Name: models.TaskNotifyResults, ScheduledTime: end.Add(resultsOffset), Priority: models.PriorityResults},
	)

	future := tasks[:0]
	for _, t := range tasks {
		if t.ScheduledTime.After(now) {
			t.EventID = eventID
			future = append(future, t)
		}
	}
	sort.SliceStable(future, func(i, j int) bool { return models.Less(future[i], future[j]) })
	return future
}

// ScoreboardTimes returns start+k*interval for every k >= 1 that falls strictly before end.
func ScoreboardTimes(start, end time.Time, interval time.Duration) []time.Time {
	seconds := int(interval / time.Second)
	if seconds <= 0 || !start.Add(interval).Before(end) {
		return nil
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.SECONDLY,
		Interval: seconds,
		Dtstart:  start,
	})
	if err != nil {
		return nil
	}
	// Between is exclusive on both ends: start itself and end are dropped.
	occurrences := rule.Between(start, end, false)
	out := make([]time.Time, 0, len(occurrences))
	for _, at := range occurrences {
		out = append(out, at.UTC())
	}
	return out
}
