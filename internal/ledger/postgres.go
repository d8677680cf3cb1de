package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is a Recorder backed by Postgres.
type Postgres struct {
	db *sql.DB
}

// Open connects to databaseURL, applies pending migrations, and returns a
// ready Postgres recorder.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// AutoMigrate runs all pending ledger migrations.
func AutoMigrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// StartRun inserts a new poll run and returns its id.
func (p *Postgres) StartRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx, `INSERT INTO poll_runs (id) VALUES ($1)`, id)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// Record inserts one post outcome.
func (p *Postgres) Record(ctx context.Context, e Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO post_ingestions (run_id, post_id, channel, state, content_count, new_content, error_message, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		nilIfEmpty(e.RunID), e.PostID, e.Channel, e.State,
		e.ContentCount, e.NewContent, nilIfEmpty(e.Error), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record post %s: %w", e.PostID, err)
	}
	return nil
}

// FinishRun stamps the run's end time and totals.
func (p *Postgres) FinishRun(ctx context.Context, runID string, stats RunStats) error {
	if runID == "" {
		return nil
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE poll_runs SET finished_at = now(), channels = $1, committed = $2, skipped = $3, failed = $4
		 WHERE id = $5`,
		stats.Channels, stats.Committed, stats.Skipped, stats.Failed, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
