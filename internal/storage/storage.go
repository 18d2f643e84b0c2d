package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists stacking run history and per-frame quality scores in a
// local SQLite database.
type Store struct {
	db *sql.DB
}

// StackRun records one composite-generation invocation.
type StackRun struct {
	ID          int64
	InputPath   string
	Method      string
	Aligned     bool
	FramesTotal int
	FramesUsed  int
	OutputPath  string
	Duration    time.Duration
	CreatedAt   time.Time
}

// FrameScore records the sharpness score of one frame within a run.
type FrameScore struct {
	FrameIndex int
	Score      float64
}

// New opens (or creates) the database at path and ensures the schema.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stack_runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            input_path TEXT NOT NULL,
            method TEXT NOT NULL,
            aligned INTEGER NOT NULL,
            frames_total INTEGER NOT NULL,
            frames_used INTEGER NOT NULL,
            output_path TEXT,
            duration_ms INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS frame_scores (
            run_id INTEGER NOT NULL,
            frame_index INTEGER NOT NULL,
            score REAL NOT NULL,
            PRIMARY KEY (run_id, frame_index)
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun inserts a completed run and returns its id.
func (s *Store) RecordRun(run StackRun) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO stack_runs (input_path, method, aligned, frames_total, frames_used, output_path, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.InputPath, run.Method, run.Aligned, run.FramesTotal, run.FramesUsed,
		run.OutputPath, run.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordScores stores per-frame quality scores for a run.
func (s *Store) RecordScores(runID int64, scores []FrameScore) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO frame_scores (run_id, frame_index, score) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, sc := range scores {
		if _, err := stmt.Exec(runID, sc.FrameIndex, sc.Score); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]StackRun, error) {
	rows, err := s.db.Query(
		`SELECT id, input_path, method, aligned, frames_total, frames_used,
                COALESCE(output_path, ''), COALESCE(duration_ms, 0), created_at
         FROM stack_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []StackRun
	for rows.Next() {
		var r StackRun
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.InputPath, &r.Method, &r.Aligned,
			&r.FramesTotal, &r.FramesUsed, &r.OutputPath, &durationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
