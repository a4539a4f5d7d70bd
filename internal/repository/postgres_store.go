package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

const pgUniqueViolation = "23505"

// PostgresStore is the engine's question/answer store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// LoadAssessment retrieves a published assessment with its questions.
func (r *PostgresStore) LoadAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	const op = "postgres.LoadAssessment"
	a := &model.Assessment{}
	var questions, retake []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, kind, question_type, title, total_marks, due_date, start_time, end_time,
		        duration_minutes, shuffle_questions, retake_policy, questions
		 FROM assessments WHERE id = $1`, id,
	).Scan(&a.ID, &a.Kind, &a.Type, &a.Title, &a.TotalMarks, &a.DueDate, &a.StartTime, &a.EndTime,
		&a.DurationMinutes, &a.ShuffleQuestions, &retake, &questions)
	if err != nil {
		return nil, classifyPg(op, err)
	}
	if err := decodeQuestions(questions, a); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	if a.RetakePolicy, err = decodeRetakePolicy(retake); err != nil {
		return nil, apperr.New(apperr.CodeInternal, op, err)
	}
	return a, nil
}

// LoadAttempts retrieves a student's attempts for an assessment, oldest first.
func (r *PostgresStore) LoadAttempts(ctx context.Context, studentID string, assessmentID uuid.UUID) ([]model.Attempt, error) {
	const op = "postgres.LoadAttempts"
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, student_id, attempt_number, started_at, submitted_at,
		        answers, grade, submit_trigger
		 FROM attempts
		 WHERE student_id = $1 AND assessment_id = $2
		 ORDER BY attempt_number ASC`, studentID, assessmentID,
	)
	if err != nil {
		return nil, classifyPg(op, err)
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, classifyPg(op, err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg(op, err)
	}
	return attempts, nil
}

// LoadAttempt retrieves one attempt by ID.
func (r *PostgresStore) LoadAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, assessment_id, student_id, attempt_number, started_at, submitted_at,
		        answers, grade, submit_trigger
		 FROM attempts WHERE id = $1`, id,
	)
	a, err := scanAttempt(row)
	if err != nil {
		return nil, classifyPg("postgres.LoadAttempt", err)
	}
	return a, nil
}

// SaveAttempt inserts a submitted attempt. Saving the same attempt ID again
// returns the stored row, so a retry after a lost acknowledgement succeeds.
// A different attempt with the same student, assessment and attempt number
// is a conflict.
func (r *PostgresStore) SaveAttempt(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	const op = "postgres.SaveAttempt"
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return nil, apperr.New(apperr.CodeValidation, op, err)
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, assessment_id, student_id, attempt_number, started_at,
		                       submitted_at, answers, grade, submit_trigger)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.AssessmentID, a.StudentID, a.AttemptNumber, a.StartedAt,
		a.SubmittedAt, answers, a.Grade, string(a.Trigger),
	)
	if err != nil {
		return nil, classifyPg(op, err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.LoadAttempt(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		return resaved(op, existing, a)
	}
	saved := *a
	return &saved, nil
}

// SetGrade records a manual grade on an ungraded attempt.
func (r *PostgresStore) SetGrade(ctx context.Context, attemptID uuid.UUID, grade int) error {
	const op = "postgres.SetGrade"
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET grade = $1 WHERE id = $2 AND grade IS NULL`, grade, attemptID)
	if err != nil {
		return classifyPg(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM attempts WHERE id = $1)`, attemptID).Scan(&exists); err != nil {
		return classifyPg(op, err)
	}
	if !exists {
		return apperr.New(apperr.CodeNotFound, op, fmt.Errorf("attempt %s not found", attemptID))
	}
	return apperr.New(apperr.CodeConflict, op, errors.New("attempt is already graded"))
}

// RubricFor returns the stored rubric of a theory question.
func (r *PostgresStore) RubricFor(ctx context.Context, questionID uuid.UUID) ([]model.RubricItem, bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT description, marks FROM theory_rubric_items
		 WHERE question_id = $1 ORDER BY position ASC`, questionID)
	if err != nil {
		return nil, false, classifyPg("postgres.RubricFor", err)
	}
	defer rows.Close()

	var items []model.RubricItem
	for rows.Next() {
		var it model.RubricItem
		if err := rows.Scan(&it.Description, &it.Marks); err != nil {
			return nil, false, classifyPg("postgres.RubricFor", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, false, classifyPg("postgres.RubricFor", err)
	}
	return items, len(items) > 0, nil
}

// PutAssessment publishes or replaces an assessment and its rubric items.
func (r *PostgresStore) PutAssessment(ctx context.Context, a *model.Assessment) error {
	const op = "postgres.PutAssessment"
	questions, err := encodeQuestions(a)
	if err != nil {
		return apperr.New(apperr.CodeValidation, op, err)
	}
	retake, err := encodeRetakePolicy(a.RetakePolicy)
	if err != nil {
		return apperr.New(apperr.CodeValidation, op, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classifyPg(op, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO assessments (id, kind, question_type, title, total_marks, due_date, start_time,
		                          end_time, duration_minutes, shuffle_questions, retake_policy, questions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   kind = EXCLUDED.kind, question_type = EXCLUDED.question_type, title = EXCLUDED.title,
		   total_marks = EXCLUDED.total_marks, due_date = EXCLUDED.due_date,
		   start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
		   duration_minutes = EXCLUDED.duration_minutes, shuffle_questions = EXCLUDED.shuffle_questions,
		   retake_policy = EXCLUDED.retake_policy, questions = EXCLUDED.questions`,
		a.ID, string(a.Kind), string(a.Type), a.Title, a.TotalMarks, a.DueDate, a.StartTime,
		a.EndTime, a.DurationMinutes, a.ShuffleQuestions, retake, questions,
	)
	if err != nil {
		return classifyPg(op, err)
	}

	ids := make([]uuid.UUID, len(a.Theory))
	var rubric [][]any
	for i, q := range a.Theory {
		ids[i] = q.ID
		for pos, it := range q.Rubric {
			rubric = append(rubric, []any{q.ID, pos, it.Description, it.Marks})
		}
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM theory_rubric_items WHERE question_id = ANY($1)`, ids); err != nil {
			return classifyPg(op, err)
		}
	}
	if len(rubric) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"theory_rubric_items"},
			[]string{"question_id", "position", "description", "marks"},
			pgx.CopyFromRows(rubric),
		)
		if err != nil {
			return classifyPg(op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPg(op, err)
	}
	return nil
}

// resaved accepts a stored row found under a's ID only when it is the same
// attempt slot.
func resaved(op string, existing, a *model.Attempt) (*model.Attempt, error) {
	if existing.StudentID != a.StudentID || existing.AssessmentID != a.AssessmentID ||
		existing.AttemptNumber != a.AttemptNumber {
		return nil, apperr.New(apperr.CodeConflict, op, fmt.Errorf("attempt id %s is already used", a.ID))
	}
	return existing, nil
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var answers []byte
	var trigger string
	if err := row.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.AttemptNumber, &a.StartedAt,
		&a.SubmittedAt, &answers, &a.Grade, &trigger); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	a.Trigger = model.SubmitTrigger(trigger)
	return a, nil
}

// classifyPg maps driver errors onto the store error taxonomy.
func classifyPg(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.CodeNotFound, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperr.New(apperr.CodeConflict, op, err)
	}
	return apperr.New(apperr.CodeTransient, op, err)
}
