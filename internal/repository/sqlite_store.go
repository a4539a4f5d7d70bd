package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is the embedded store used for single-machine deployments and
// tests. Timestamps are stored as RFC 3339 text in UTC.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database opened by database.OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (r *SQLiteStore) LoadAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	const op = "sqlite.LoadAssessment"
	a := &model.Assessment{}
	var (
		rawID                   string
		due, start, end         sql.NullString
		retake                  sql.NullString
		questions               string
		shuffle                 int
		kind, questionType, ttl string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, kind, question_type, title, total_marks, due_date, start_time, end_time,
		        duration_minutes, shuffle_questions, retake_policy, questions
		 FROM assessments WHERE id = ?`, id.String(),
	).Scan(&rawID, &kind, &questionType, &ttl, &a.TotalMarks, &due, &start, &end,
		&a.DurationMinutes, &shuffle, &retake, &questions)
	if err != nil {
		return nil, classifySQLite(op, err)
	}

	if a.ID, err = uuid.Parse(rawID); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	a.Kind = model.AssessmentKind(kind)
	a.Type = model.QuestionType(questionType)
	a.Title = ttl
	a.ShuffleQuestions = shuffle != 0
	if a.DueDate, err = parseNullTime(due); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if a.StartTime, err = parseNullTime(start); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if a.EndTime, err = parseNullTime(end); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if a.RetakePolicy, err = decodeRetakePolicy([]byte(retake.String)); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if err := decodeQuestions([]byte(questions), a); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	return a, nil
}

func (r *SQLiteStore) LoadAttempts(ctx context.Context, studentID string, assessmentID uuid.UUID) ([]model.Attempt, error) {
	const op = "sqlite.LoadAttempts"
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, assessment_id, student_id, attempt_number, started_at, submitted_at,
		        answers, grade, submit_trigger
		 FROM attempts
		 WHERE student_id = ? AND assessment_id = ?
		 ORDER BY attempt_number ASC`, studentID, assessmentID.String(),
	)
	if err != nil {
		return nil, classifySQLite(op, err)
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanSQLiteAttempt(rows)
		if err != nil {
			return nil, classifySQLite(op, err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(op, err)
	}
	return attempts, nil
}

func (r *SQLiteStore) LoadAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, assessment_id, student_id, attempt_number, started_at, submitted_at,
		        answers, grade, submit_trigger
		 FROM attempts WHERE id = ?`, id.String(),
	)
	a, err := scanSQLiteAttempt(row)
	if err != nil {
		return nil, classifySQLite("sqlite.LoadAttempt", err)
	}
	return a, nil
}

// SaveAttempt inserts a submitted attempt with the same re-save and
// conflict rules as PostgresStore.SaveAttempt.
func (r *SQLiteStore) SaveAttempt(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	const op = "sqlite.SaveAttempt"
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return nil, apperr.New(apperr.CodeValidation, op, err)
	}
	var grade sql.NullInt64
	if a.Grade != nil {
		grade = sql.NullInt64{Int64: int64(*a.Grade), Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO attempts (id, assessment_id, student_id, attempt_number, started_at,
		                       submitted_at, answers, grade, submit_trigger)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID.String(), a.AssessmentID.String(), a.StudentID, a.AttemptNumber, formatTime(a.StartedAt),
		formatTime(a.SubmittedAt), string(answers), grade, string(a.Trigger),
	)
	if err != nil {
		return nil, classifySQLite(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		existing, err := r.LoadAttempt(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		return resaved(op, existing, a)
	}
	saved := *a
	return &saved, nil
}

func (r *SQLiteStore) SetGrade(ctx context.Context, attemptID uuid.UUID, grade int) error {
	const op = "sqlite.SetGrade"
	res, err := r.db.ExecContext(ctx,
		`UPDATE attempts SET grade = ? WHERE id = ? AND grade IS NULL`, grade, attemptID.String())
	if err != nil {
		return classifySQLite(op, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE id = ?`, attemptID.String()).Scan(&count); err != nil {
		return classifySQLite(op, err)
	}
	if count == 0 {
		return apperr.New(apperr.CodeNotFound, op, fmt.Errorf("attempt %s not found", attemptID))
	}
	return apperr.New(apperr.CodeConflict, op, errors.New("attempt is already graded"))
}

func (r *SQLiteStore) RubricFor(ctx context.Context, questionID uuid.UUID) ([]model.RubricItem, bool, error) {
	const op = "sqlite.RubricFor"
	rows, err := r.db.QueryContext(ctx,
		`SELECT description, marks FROM theory_rubric_items
		 WHERE question_id = ? ORDER BY position ASC`, questionID.String())
	if err != nil {
		return nil, false, classifySQLite(op, err)
	}
	defer rows.Close()

	var items []model.RubricItem
	for rows.Next() {
		var it model.RubricItem
		if err := rows.Scan(&it.Description, &it.Marks); err != nil {
			return nil, false, classifySQLite(op, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, false, classifySQLite(op, err)
	}
	return items, len(items) > 0, nil
}

// PutAssessment publishes or replaces an assessment and its rubric items.
func (r *SQLiteStore) PutAssessment(ctx context.Context, a *model.Assessment) error {
	const op = "sqlite.PutAssessment"
	questions, err := encodeQuestions(a)
	if err != nil {
		return apperr.New(apperr.CodeValidation, op, err)
	}
	retake, err := encodeRetakePolicy(a.RetakePolicy)
	if err != nil {
		return apperr.New(apperr.CodeValidation, op, err)
	}
	var retakeCol sql.NullString
	if retake != nil {
		retakeCol = sql.NullString{String: string(retake), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assessments (id, kind, question_type, title, total_marks, due_date, start_time,
		                          end_time, duration_minutes, shuffle_questions, retake_policy, questions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   kind = excluded.kind, question_type = excluded.question_type, title = excluded.title,
		   total_marks = excluded.total_marks, due_date = excluded.due_date,
		   start_time = excluded.start_time, end_time = excluded.end_time,
		   duration_minutes = excluded.duration_minutes, shuffle_questions = excluded.shuffle_questions,
		   retake_policy = excluded.retake_policy, questions = excluded.questions`,
		a.ID.String(), string(a.Kind), string(a.Type), a.Title, a.TotalMarks,
		formatNullTime(a.DueDate), formatNullTime(a.StartTime), formatNullTime(a.EndTime),
		a.DurationMinutes, a.ShuffleQuestions, retakeCol, string(questions),
	)
	if err != nil {
		return classifySQLite(op, err)
	}

	for _, q := range a.Theory {
		if _, err := tx.ExecContext(ctx, `DELETE FROM theory_rubric_items WHERE question_id = ?`, q.ID.String()); err != nil {
			return classifySQLite(op, err)
		}
		for pos, it := range q.Rubric {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO theory_rubric_items (question_id, position, description, marks) VALUES (?, ?, ?, ?)`,
				q.ID.String(), pos, it.Description, it.Marks)
			if err != nil {
				return classifySQLite(op, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySQLite(op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAttempt(row rowScanner) (*model.Attempt, error) {
	a := &model.Attempt{}
	var (
		id, assessmentID   string
		started, submitted string
		answers, trigger   string
		grade              sql.NullInt64
	)
	if err := row.Scan(&id, &assessmentID, &a.StudentID, &a.AttemptNumber, &started,
		&submitted, &answers, &grade, &trigger); err != nil {
		return nil, err
	}

	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.AssessmentID, err = uuid.Parse(assessmentID); err != nil {
		return nil, err
	}
	if a.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, err
	}
	if a.SubmittedAt, err = time.Parse(time.RFC3339Nano, submitted); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if grade.Valid {
		g := int(grade.Int64)
		a.Grade = &g
	}
	a.Trigger = model.SubmitTrigger(trigger)
	return a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// classifySQLite maps driver errors onto the store error taxonomy.
func classifySQLite(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.CodeNotFound, op, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperr.New(apperr.CodeConflict, op, err)
		}
	}
	return apperr.New(apperr.CodeTransient, op, err)
}
