// Package record persists the echo service's session transcript: one row
// per loop iteration, kept in a local sqlite database.
package record

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/echotrap/echotrap/echo"
)

// Store is a sqlite-backed transcript of supervisor iterations.
type Store struct {
	logger *zap.SugaredLogger
	db     *sql.DB
}

// NewStore opens (or creates) the transcript database at path and prepares
// its schema.
func NewStore(logger *zap.SugaredLogger, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise transcript schema: %w", err)
	}

	logger.Infow("transcript store ready", "path", path)

	return &Store{
		logger: logger,
		db:     db,
	}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS iterations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		at         DATETIME NOT NULL,
		iteration  INTEGER NOT NULL,
		read_bytes INTEGER NOT NULL,
		wrote      INTEGER NOT NULL,
		diag_ran   BOOLEAN NOT NULL,
		read_err   TEXT NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create iterations table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_iterations_at ON iterations(at);",
		"CREATE INDEX IF NOT EXISTS idx_iterations_iteration ON iterations(iteration);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Insert appends one iteration to the transcript.
func (s *Store) Insert(ev echo.IterationEvent) error {
	query := `
		INSERT INTO iterations (
			at, iteration, read_bytes, wrote, diag_ran, read_err
		) VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.Exec(query,
		ev.At,
		ev.Iteration,
		ev.ReadBytes,
		ev.Wrote,
		ev.DiagRan,
		ev.ReadErr,
	); err != nil {
		return fmt.Errorf("failed to insert iteration %d: %w", ev.Iteration, err)
	}

	return nil
}

// Drain consumes iteration events and records each one, until ctx is
// cancelled or the channel is closed. Calls to Drain are blocking.
func (s *Store) Drain(ctx context.Context, events <-chan echo.IterationEvent) error {
	var (
		ev echo.IterationEvent
		ok bool
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("record context cancelled, exiting...")
			return nil
		case ev, ok = <-events:
			if !ok {
				return nil
			}
		}

		if err := s.Insert(ev); err != nil {
			return fmt.Errorf("failed to record iteration: %w", err)
		}
	}
}

// Iterations reads the whole transcript back in insertion order.
func (s *Store) Iterations() ([]echo.IterationEvent, error) {
	rows, err := s.db.Query(`
		SELECT at, iteration, read_bytes, wrote, diag_ran, read_err
		FROM iterations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	var evs []echo.IterationEvent

	for rows.Next() {
		var ev echo.IterationEvent

		if err := rows.Scan(
			&ev.At,
			&ev.Iteration,
			&ev.ReadBytes,
			&ev.Wrote,
			&ev.DiagRan,
			&ev.ReadErr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}

		evs = append(evs, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	return evs, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close transcript database: %w", err)
	}

	return nil
}
