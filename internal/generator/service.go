package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
)

var ErrInvalidEvent = errors.New("invalid event")

const uniqueNameLayout = "01-02-2006-1504"

// UniqueName derives the event slug: spaces become dashes, then the start
// time in MM-DD-YYYY-HHMM is appended.
func UniqueName(name string, start time.Time) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "-") + "-" + start.UTC().Format(uniqueNameLayout)
}

type CreateRequest struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	ConfigRef   string    `json:"config_ref" binding:"required"`
	Start       time.Time `json:"start_time" binding:"required"`
	End         time.Time `json:"end_time" binding:"required"`
	// ScoreboardInterval in seconds; nil falls back to the configured default, 0 disables displays.
	ScoreboardInterval *int `json:"scoreboard_interval"`
}

type eventTaskStore interface {
	store.EventStore
	store.TaskStore
}

type Service struct {
	store           eventTaskStore
	defaultInterval int
	now             func() time.Time
}

func NewService(s eventTaskStore, defaultIntervalSeconds int) *Service {
	return &Service{store: s, defaultInterval: defaultIntervalSeconds, now: time.Now}
}

// CreateEvent stores the event and its generated tasks. If the tasks cannot be
// written the event row is removed again.
func (s *Service) CreateEvent(ctx context.Context, req CreateRequest) (*models.Event, []models.Task, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, nil, fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(req.ConfigRef) == "" {
		return nil, nil, fmt.Errorf("%w: config_ref is required", ErrInvalidEvent)
	}
	start, end := models.Truncate(req.Start), models.Truncate(req.End)
	if !start.Before(end) {
		return nil, nil, fmt.Errorf("%w: start %s must be before end %s", ErrInvalidEvent,
			models.FormatTimestamp(start), models.FormatTimestamp(end))
	}
	interval := s.defaultInterval
	if req.ScoreboardInterval != nil {
		interval = *req.ScoreboardInterval
	}
	if interval < 0 {
		return nil, nil, fmt.Errorf("%w: scoreboard_interval must be >= 0", ErrInvalidEvent)
	}

	ev := &models.Event{
		UniqueName:         UniqueName(req.Name, start),
		Name:               strings.TrimSpace(req.Name),
		ConfigRef:          req.ConfigRef,
		Description:        req.Description,
		StartTime:          start,
		EndTime:            end,
		ScoreboardInterval: interval,
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, nil, fmt.Errorf("create event %s: %w", ev.UniqueName, err)
	}

	tasks := Plan(ev.ID, start, end, s.now(), ev.Interval())
	if err := s.store.InsertTasks(ctx, tasks); err != nil {
		log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to insert tasks, rolling back event")
		if delErr := s.store.DeleteEvent(context.WithoutCancel(ctx), ev.ID); delErr != nil {
			log.Error().Err(delErr).Int64("event_id", ev.ID).Msg("Failed to roll back event")
		}
		return nil, nil, fmt.Errorf("insert tasks for %s: %w", ev.UniqueName, err)
	}

	log.Info().Int64("event_id", ev.ID).Str("unique_event_name", ev.UniqueName).
		Time("start_time", start).Time("end_time", end).Int("tasks", len(tasks)).
		Msg("Event scheduled")
	return ev, tasks, nil
}
