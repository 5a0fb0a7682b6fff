package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/cankoe/rcon-event-scheduler/internal/generator"
	"github.com/cankoe/rcon-event-scheduler/internal/helpers"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
	"github.com/cankoe/rcon-event-scheduler/internal/templates"
)

func main() {
	fs := pflag.NewFlagSet("create-event", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	name := fs.String("name", "", "Event name")
	description := fs.String("description", "", "Event description")
	configRef := fs.String("config-ref", "", "Template file name inside the templates directory")
	start := fs.String("start", "", "Start time, YYYY-MM-DDTHH:MM:SSZ or YYYY-MM-DD HH:MM:SS (UTC)")
	end := fs.String("end", "", "End time, YYYY-MM-DDTHH:MM:SSZ or YYYY-MM-DD HH:MM:SS (UTC)")
	interval := fs.Int("interval", -1, "Scoreboard interval in seconds (0 disables, default from config)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.PrintDefaults()
		os.Exit(2)
	}

	startTime, err := parseTime(*start)
	if err != nil {
		log.Fatal().Err(err).Str("start", *start).Msg("Invalid start time")
	}
	endTime, err := parseTime(*end)
	if err != nil {
		log.Fatal().Err(err).Str("end", *end).Msg("Invalid end time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	components, err := helpers.InitializeCommonComponents(ctx, "create-event")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer components.CloseAll(context.Background())
	cfg := components.Config

	loader, err := templates.NewLoader(cfg.Templates.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open template directory")
	}
	if _, err := loader.Load(*configRef); err != nil {
		log.Fatal().Err(err).Str("config_ref", *configRef).Msg("Unknown event template")
	}

	req := generator.CreateRequest{
		Name:        *name,
		Description: *description,
		ConfigRef:   *configRef,
		Start:       startTime,
		End:         endTime,
	}
	if *interval >= 0 {
		req.ScoreboardInterval = interval
	}

	svc := generator.NewService(components.Store, cfg.Generator.ScoreboardIntervalSeconds)
	ev, tasks, err := svc.CreateEvent(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event")
	}

	fmt.Printf("Created event %d (%s) with %d tasks\n", ev.ID, ev.UniqueName, len(tasks))
	for _, t := range tasks {
		fmt.Printf("  %-26s %s  priority %d\n", t.Name, models.FormatTimestamp(t.ScheduledTime), t.Priority)
	}
}

// parseTime accepts the stored format or a space separated UTC date and time.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	return models.ParseTimestamp(s)
}
