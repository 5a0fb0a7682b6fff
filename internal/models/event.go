package models

import "time"

// DefaultScoreboardInterval is used when an event is created without an explicit interval.
const DefaultScoreboardInterval = 600

type Event struct {
	ID                 int64      `json:"id"`
	UniqueName         string     `json:"unique_event_name"`
	Name               string     `json:"name"`
	ConfigRef          string     `json:"config_ref"`
	Description        string     `json:"description"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Started            bool       `json:"started"`
	InProgress         bool       `json:"in_progress"`
	Over               bool       `json:"over"`
	LastScoreboardTime *time.Time `json:"last_scoreboard_time,omitempty"`
	ScoreboardInterval int        `json:"scoreboard_interval"`
}

// Interval returns the scoreboard display interval, or zero when displays are disabled.
func (e *Event) Interval() time.Duration {
	if e.ScoreboardInterval <= 0 {
		return 0
	}
	return time.Duration(e.ScoreboardInterval) * time.Second
}

type NotificationKind string

const (
	Notification24h   NotificationKind = "24h"
	Notification30m   NotificationKind = "30min"
	NotificationStart NotificationKind = "start"
	NotificationEnd   NotificationKind = "end"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case Notification24h, Notification30m, NotificationStart, NotificationEnd:
		return true
	}
	return false
}

// Notification is an audit marker written after a message was delivered.
type Notification struct {
	ID      int64            `json:"id"`
	EventID int64            `json:"event_id"`
	Kind    NotificationKind `json:"notification_type"`
	SentAt  time.Time        `json:"sent_at"`
}

// NoParticipants is reported in place of winner names when nobody scored.
const NoParticipants = "no_Participants"

type Winner struct {
	ID         int64     `json:"id"`
	EventID    int64     `json:"event_id"`
	PlayerName string    `json:"player_name"`
	FinalScore int       `json:"final_score"`
	WasOnline  bool      `json:"was_online"`
	RewardedAt time.Time `json:"rewarded_at"`
}
