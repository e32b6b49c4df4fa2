// Package runstore persists training run history and evaluation results in
// SQLite so past runs survive process restarts and are queryable over the
// API.
package runstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    state TEXT NOT NULL DEFAULT 'running',
    best_metric REAL,
    epochs INTEGER DEFAULT 0,
    checkpoint TEXT
);
CREATE TABLE IF NOT EXISTS epochs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    epoch INTEGER NOT NULL,
    train_loss REAL,
    val_metric REAL,
    improved INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(run_id, epoch)
);
CREATE TABLE IF NOT EXISTS evaluations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    checkpoint TEXT NOT NULL,
    split TEXT NOT NULL,
    accuracy REAL NOT NULL,
    samples INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type Run struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	State      string     `json:"state"`
	BestMetric float64    `json:"best_metric"`
	Epochs     int        `json:"epochs"`
	Checkpoint string     `json:"checkpoint"`
}

func (s *Store) CreateRun(checkpoint string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (started_at, checkpoint) VALUES (?, ?)`,
		time.Now().UTC(), checkpoint)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) RecordEpoch(runID int64, epoch int, trainLoss, valMetric float64, improved bool) error {
	_, err := s.db.Exec(
		`INSERT INTO epochs (run_id, epoch, train_loss, val_metric, improved) VALUES (?, ?, ?, ?, ?)`,
		runID, epoch, trainLoss, valMetric, improved)
	if err != nil {
		return fmt.Errorf("record epoch: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(runID int64, state string, bestMetric float64, epochs int) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, state = ?, best_metric = ?, epochs = ? WHERE id = ?`,
		time.Now().UTC(), state, bestMetric, epochs, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Store) RecordEvaluation(checkpoint, split string, accuracy float64, samples int) error {
	_, err := s.db.Exec(
		`INSERT INTO evaluations (checkpoint, split, accuracy, samples) VALUES (?, ?, ?, ?)`,
		checkpoint, split, accuracy, samples)
	if err != nil {
		return fmt.Errorf("record evaluation: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, state,
		        COALESCE(best_metric, 0), epochs, COALESCE(checkpoint, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.State, &r.BestMetric, &r.Epochs, &r.Checkpoint); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
