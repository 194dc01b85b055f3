// Package sqlite archives full sessions of raw market events at teardown:
// Redis holds the hot per-session history, SQLite is the cold long-term copy
// used for replay and offline research.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"tmf-trader/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the archive database.
type Config struct {
	DBPath string // e.g. "data/sessions.db"
}

// Archive is a single-writer SQLite store of per-session raw ticks.
type Archive struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (a *Archive) DB() *sql.DB { return a.db }

// New opens (or creates) the archive with WAL mode and schema.
func New(cfg Config) (*Archive, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened archive at %s", cfg.DBPath)
	return &Archive{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_ticks (
			symbol       TEXT    NOT NULL,
			session_date TEXT    NOT NULL,
			serial       INTEGER NOT NULL,
			ts_us        INTEGER NOT NULL,
			close        REAL    NOT NULL,
			volume       INTEGER NOT NULL,
			tick_type    INTEGER NOT NULL,
			record       TEXT    NOT NULL,
			PRIMARY KEY (symbol, session_date, serial)
		);
		CREATE INDEX IF NOT EXISTS idx_session_ticks_ts ON session_ticks(symbol, session_date, ts_us);
	`)
	return err
}

// ArchiveSession inserts one session's ticks in a single transaction. The
// full serialized record is kept alongside the queryable columns so replay
// reconstructs ticks exactly.
func (a *Archive) ArchiveSession(ctx context.Context, symbol, sessionDate string, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO session_ticks
			(symbol, session_date, serial, ts_us, close, volume, tick_type, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for i, t := range ticks {
		serial := t.Serial
		if serial == 0 {
			serial = int64(i + 1)
		}
		if _, err := stmt.ExecContext(ctx,
			symbol, sessionDate, serial, t.TS.UTC().UnixMicro(),
			t.Close, t.Volume, t.TickType, t.Serialize(serial),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	log.Printf("[sqlite] archived %d ticks for %s %s", len(ticks), symbol, sessionDate)
	return nil
}

// ReadSession returns one session's ticks in serial order for replay.
func (a *Archive) ReadSession(ctx context.Context, symbol, sessionDate string) ([]model.Tick, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT record FROM session_ticks
		WHERE symbol = ? AND session_date = ?
		ORDER BY serial`, symbol, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		t, err := model.ParseTick(record)
		if err != nil {
			log.Printf("[sqlite] skip bad record for %s %s: %v", symbol, sessionDate, err)
			continue
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }
