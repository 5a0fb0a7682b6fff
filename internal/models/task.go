package models

import "time"

// Task names. The set is closed; anything else is logged and completed without effect.
const (
	TaskNotify24h         = "notify_24h"
	TaskNotify30m         = "notify_30m"
	TaskNotifyStart       = "notify_start"
	TaskServerStart       = "server_start_event"
	TaskDisplayScoreboard = "server_display_scoreboard"
	TaskServerEnd         = "server_end_event"
	TaskNotifyResults     = "notify_results"
)

// Priorities; higher runs first among tasks due in the same cycle.
const (
	PriorityReminder = 2
	PriorityResults  = 3
	PriorityDisplay  = 4
	PriorityAnnounce = 4
	PriorityServer   = 5
)

type Task struct {
	ID                int64      `json:"id"`
	EventID           int64      `json:"event_id"`
	Name              string     `json:"task_name"`
	ScheduledTime     time.Time  `json:"scheduled_time"`
	Priority          int        `json:"priority"`
	Completed         bool       `json:"completed"`
	ExecutionLengthMS int64      `json:"execution_length_ms"`
	CompletedTime     *time.Time `json:"completed_time,omitempty"`
}

// Due reports whether the task may run at now.
func (t *Task) Due(now time.Time) bool {
	return !t.ScheduledTime.After(now)
}

// KnownTask reports whether name is one of the generated task names.
func KnownTask(name string) bool {
	switch name {
	case TaskNotify24h, TaskNotify30m, TaskNotifyStart, TaskServerStart,
		TaskDisplayScoreboard, TaskServerEnd, TaskNotifyResults:
		return true
	}
	return false
}

// Less orders tasks by priority descending, then scheduled time, then id.
func Less(a, b Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		return a.ScheduledTime.Before(b.ScheduledTime)
	}
	return a.ID < b.ID
}
