package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

type dbMigration struct {
	Version uint
	Queries []string
}

const timestampGlob = `'[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]T[0-9][0-9]:[0-9][0-9]:[0-9][0-9]Z'`

var migrations = []dbMigration{
	{
		Version: 1,
		Queries: []string{
			`CREATE TABLE events (
				id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
				unique_event_name TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				event_json TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				start_time TEXT NOT NULL,
				end_time TEXT NOT NULL,
				event_in_progress INTEGER NOT NULL DEFAULT 0,
				event_started INTEGER NOT NULL DEFAULT 0,
				event_over INTEGER NOT NULL DEFAULT 0,
				last_scoreboard_time TEXT,
				scoreboard_interval INTEGER NOT NULL DEFAULT 600
			)`,
			`CREATE TABLE event_tasks (
				id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
				event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				task_name TEXT NOT NULL,
				scheduled_time TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				completed INTEGER NOT NULL DEFAULT 0,
				execution_length_ms INTEGER NOT NULL DEFAULT 0,
				completed_time TEXT
			)`,
			`CREATE INDEX idx_event_tasks_schedule ON event_tasks(completed, scheduled_time, priority)`,
			`CREATE TABLE event_notifications (
				id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
				event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				notification_type TEXT NOT NULL CHECK (notification_type IN ('24h', '30min', 'start', 'end')),
				sent_at TEXT NOT NULL
			)`,
			`CREATE TABLE event_winners (
				id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
				event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				player_name TEXT NOT NULL,
				final_score INTEGER NOT NULL DEFAULT 0,
				was_online INTEGER NOT NULL DEFAULT 0,
				rewarded_at TEXT NOT NULL
			)`,
			`CREATE TRIGGER event_tasks_time_format_insert BEFORE INSERT ON event_tasks
			WHEN NEW.scheduled_time NOT GLOB ` + timestampGlob + `
				OR (NEW.completed_time IS NOT NULL AND NEW.completed_time NOT GLOB ` + timestampGlob + `)
			BEGIN
				SELECT RAISE(ABORT, 'event_tasks timestamps must be YYYY-MM-DDTHH:MM:SSZ');
			END`,
			`CREATE TRIGGER event_tasks_time_format_update BEFORE UPDATE ON event_tasks
			WHEN NEW.scheduled_time NOT GLOB ` + timestampGlob + `
				OR (NEW.completed_time IS NOT NULL AND NEW.completed_time NOT GLOB ` + timestampGlob + `)
			BEGIN
				SELECT RAISE(ABORT, 'event_tasks timestamps must be YYYY-MM-DDTHH:MM:SSZ');
			END`,
			`CREATE TRIGGER events_time_format_insert BEFORE INSERT ON events
			WHEN NEW.start_time NOT GLOB ` + timestampGlob + `
				OR NEW.end_time NOT GLOB ` + timestampGlob + `
			BEGIN
				SELECT RAISE(ABORT, 'events timestamps must be YYYY-MM-DDTHH:MM:SSZ');
			END`,
			`CREATE TRIGGER events_time_format_update BEFORE UPDATE ON events
			WHEN NEW.start_time NOT GLOB ` + timestampGlob + `
				OR NEW.end_time NOT GLOB ` + timestampGlob + `
				OR (NEW.last_scoreboard_time IS NOT NULL AND NEW.last_scoreboard_time NOT GLOB ` + timestampGlob + `)
			BEGIN
				SELECT RAISE(ABORT, 'events timestamps must be YYYY-MM-DDTHH:MM:SSZ');
			END`,
		},
	},
	{
		Version: 2,
		Queries: []string{
			`CREATE INDEX idx_event_tasks_event ON event_tasks(event_id)`,
			`CREATE INDEX idx_event_notifications_event ON event_notifications(event_id)`,
			`CREATE INDEX idx_event_winners_event ON event_winners(event_id, final_score)`,
		},
	},
}

// execute runs the migration unless a previous run already recorded success.
func (mig *dbMigration) execute(ctx context.Context, db *sqlx.DB) error {
	var success bool
	err := db.QueryRowContext(ctx, `SELECT success FROM Migrations WHERE version = ?`, mig.Version).Scan(&success)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("fetch migration %d status: %w", mig.Version, err)
	}
	if success {
		return nil
	}

	log.Info().Uint("version", mig.Version).Msg("Executing DB migration")
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, query := range mig.Queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			log.Error().Err(err).Uint("version", mig.Version).Int("query", i+1).Msg("Migration query failed")
			return fmt.Errorf("migration %d query %d: %w", mig.Version, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `REPLACE INTO Migrations(version, success) VALUES(?, 1)`, mig.Version); err != nil {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS Migrations (
		version INTEGER NOT NULL PRIMARY KEY,
		success INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	for i := range migrations {
		if err := migrations[i].execute(ctx, db); err != nil {
			return err
		}
	}
	return nil
}
