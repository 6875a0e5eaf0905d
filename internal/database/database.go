package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gocraft/dbr/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.
)

const dsnOptions = "?_busy_timeout=5000&_journal_mode=WAL"

type Database struct {
	conn *dbr.Connection
	log  *slog.Logger
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

func New(ctx context.Context, dbPath string, log *slog.Logger) (*Database, error) {
	conn, err := dbr.Open("sqlite3", dbPath+dsnOptions, &eventReceiver{log: log})
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	dbInstance, err := sqlite3.WithInstance(conn.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	migrateErr := m.Up()

	version, dirty, versionErr := m.Version()
	fields := []any{
		"dbPath", dbPath,
	}

	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"dbPath", dbPath)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return nil, fmt.Errorf("apply migrations: %w", migrateErr)
		}

		log.InfoContext(ctx, "No migrations to apply", fields...)
	} else {
		log.InfoContext(ctx, "DB is migrated", fields...)
	}

	return &Database{conn: conn, log: log}, nil
}

func (d *Database) Close() error {
	return d.conn.Close()
}

func (d *Database) session() *dbr.Session {
	return d.conn.NewSession(nil)
}

// eventReceiver routes dbr instrumentation into the structured log.
type eventReceiver struct {
	log *slog.Logger
}

func (r *eventReceiver) Event(string) {}

func (r *eventReceiver) EventKv(string, map[string]string) {}

func (r *eventReceiver) EventErr(eventName string, err error) error {
	r.log.Error("Failed to run query",
		"error", err,
		"event", eventName)

	return err
}

func (r *eventReceiver) EventErrKv(eventName string, err error, kvs map[string]string) error {
	r.log.Error("Failed to run query",
		"error", err,
		"event", eventName,
		"sql", kvs["sql"])

	return err
}

func (r *eventReceiver) Timing(eventName string, nanoseconds int64) {
	r.log.Debug("Query is done",
		"event", eventName,
		"durationMs", float64(nanoseconds)/1e6)
}

func (r *eventReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	r.log.Debug("Query is done",
		"event", eventName,
		"durationMs", float64(nanoseconds)/1e6,
		"sql", kvs["sql"])
}
