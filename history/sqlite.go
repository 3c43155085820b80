package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avasker/keel/internal/canon"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStorage persists snapshot sequences to a SQLite database. States
// and intents are serialized through the codec (JSON by default), and the
// state's canonical-JSON hash is stored alongside for integrity checks.
//
// The connection is configured the single-writer way:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - a single pooled connection, since SQLite allows one writer
type SQLiteStorage[S any] struct {
	db    *sql.DB
	codec Codec[S]
}

// OpenSQLite creates or opens the database at path. A nil codec defaults
// to JSONCodec. Idempotent: pragmas and schema are safe to re-apply.
func OpenSQLite[S any](path string, codec Codec[S]) (*SQLiteStorage[S], error) {
	if codec == nil {
		codec = JSONCodec[S]{}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &SQLiteStorage[S]{db: db, codec: codec}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("history: execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage[S]) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save transactionally replaces the stored sequence: either the whole new
// sequence is persisted or the previous one survives intact.
func (s *SQLiteStorage[S]) Save(ctx context.Context, snaps []Snapshot[S]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots"); err != nil {
		return fmt.Errorf("history: clear previous sequence: %w", err)
	}

	insert := `INSERT INTO snapshots (idx, snapshot_id, intent, state, state_hash, ts)
	           VALUES (?, ?, ?, ?, ?, ?)`
	for _, snap := range snaps {
		stateRaw, err := s.codec.EncodeState(snap.State)
		if err != nil {
			return fmt.Errorf("history: encode state at index %d: %w", snap.Index, err)
		}
		stateHash, err := canon.HashJSON(canon.DomainSnapshot, stateRaw)
		if err != nil {
			return fmt.Errorf("history: hash state at index %d: %w", snap.Index, err)
		}

		var intentRaw []byte
		if !snap.IsRoot() {
			intentRaw, err = s.codec.EncodeIntent(snap.Intent)
			if err != nil {
				return fmt.Errorf("history: encode intent at index %d: %w", snap.Index, err)
			}
		}

		_, err = tx.ExecContext(ctx, insert,
			snap.Index,
			snap.ID,
			intentRaw,
			stateRaw,
			stateHash,
			snap.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("history: insert snapshot %d: %w", snap.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit save: %w", err)
	}
	return nil
}

// Load reads the stored sequence ordered by index. A NULL intent column
// restores as the root snapshot (nil intent).
func (s *SQLiteStorage[S]) Load(ctx context.Context) ([]Snapshot[S], error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, snapshot_id, intent, state, ts FROM snapshots ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("history: query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot[S]
	for rows.Next() {
		var (
			idx       int
			id        string
			intentRaw []byte
			stateRaw  []byte
			ts        string
		)
		if err := rows.Scan(&idx, &id, &intentRaw, &stateRaw, &ts); err != nil {
			return nil, fmt.Errorf("history: scan snapshot: %w", err)
		}

		state, err := s.codec.DecodeState(stateRaw)
		if err != nil {
			return nil, fmt.Errorf("history: decode state at index %d: %w", idx, err)
		}

		var intent any
		if intentRaw != nil {
			intent, err = s.codec.DecodeIntent(intentRaw)
			if err != nil {
				return nil, fmt.Errorf("history: decode intent at index %d: %w", idx, err)
			}
		}

		timestamp, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("history: parse timestamp at index %d: %w", idx, err)
		}

		snaps = append(snaps, Snapshot[S]{
			ID:        id,
			State:     state,
			Intent:    intent,
			Timestamp: timestamp,
			Index:     idx,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate snapshots: %w", err)
	}
	return snaps, nil
}

// Clear drops the stored sequence.
func (s *SQLiteStorage[S]) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM snapshots"); err != nil {
		return fmt.Errorf("history: clear snapshots: %w", err)
	}
	return nil
}
