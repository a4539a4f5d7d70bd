package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens an embedded SQLite database and creates the engine schema
// if it is missing. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("SQLite opened")
	return db, nil
}

const sqliteSchema = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  question_type TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  total_marks INTEGER NOT NULL,
  due_date TEXT,
  start_time TEXT,
  end_time TEXT,
  duration_minutes INTEGER NOT NULL DEFAULT 0,
  shuffle_questions INTEGER NOT NULL DEFAULT 0,
  retake_policy TEXT,
  questions TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS theory_rubric_items (
  question_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  description TEXT NOT NULL,
  marks INTEGER NOT NULL CHECK (marks >= 0),
  PRIMARY KEY (question_id, position)
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  student_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL CHECK (attempt_number >= 1),
  started_at TEXT NOT NULL,
  submitted_at TEXT NOT NULL,
  answers TEXT NOT NULL,
  grade INTEGER,
  submit_trigger TEXT NOT NULL,
  UNIQUE (student_id, assessment_id, attempt_number)
);

CREATE INDEX IF NOT EXISTS idx_attempts_student_assessment
  ON attempts (student_id, assessment_id);
`
