package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// DraftRepository persists answer drafts of open attempts.
type DraftRepository struct {
	pool *pgxpool.Pool
}

// NewDraftRepository creates a new DraftRepository.
func NewDraftRepository(pool *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{pool: pool}
}

// UpsertDrafts writes a batch of drafts in one statement. Drafts of attempts
// that are already submitted are skipped.
func (r *DraftRepository) UpsertDrafts(ctx context.Context, drafts []model.Draft) error {
	n := len(drafts)
	if n == 0 {
		return nil
	}
	assessmentIDs := make([]uuid.UUID, n)
	studentIDs := make([]string, n)
	attempts := make([]int32, n)
	answers := make([]string, n)
	orders := make([]string, n)
	savedAts := make([]time.Time, n)

	for i, d := range drafts {
		a, err := json.Marshal(d.Answers)
		if err != nil {
			return err
		}
		o, err := json.Marshal(orderOrEmpty(d.Order))
		if err != nil {
			return err
		}
		assessmentIDs[i] = d.AssessmentID
		studentIDs[i] = d.StudentID
		attempts[i] = int32(d.AttemptNumber)
		answers[i] = string(a)
		orders[i] = string(o)
		savedAts[i] = d.SavedAt
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO attempt_drafts (assessment_id, student_id, attempt_number, answers, question_order, saved_at)
		SELECT u.assessment_id, u.student_id, u.attempt_number, u.answers, u.question_order, u.saved_at
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::int[],
			$4::jsonb[],
			$5::jsonb[],
			$6::timestamptz[]
		) AS u (assessment_id, student_id, attempt_number, answers, question_order, saved_at)
		WHERE NOT EXISTS (
			SELECT 1 FROM attempts t
			WHERE t.assessment_id = u.assessment_id
			  AND t.student_id = u.student_id
			  AND t.attempt_number = u.attempt_number
		)
		ON CONFLICT (assessment_id, student_id, attempt_number) DO UPDATE
		SET answers = EXCLUDED.answers,
		    question_order = EXCLUDED.question_order,
		    saved_at = EXCLUDED.saved_at
		WHERE attempt_drafts.saved_at <= EXCLUDED.saved_at`,
		assessmentIDs, studentIDs, attempts, answers, orders, savedAts,
	)
	return err
}

// UpsertDraft writes a single draft unless its attempt is already submitted.
func (r *DraftRepository) UpsertDraft(ctx context.Context, d model.Draft) error {
	answers, err := json.Marshal(d.Answers)
	if err != nil {
		return err
	}
	order, err := json.Marshal(orderOrEmpty(d.Order))
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO attempt_drafts (assessment_id, student_id, attempt_number, answers, question_order, saved_at)
		 SELECT $1::uuid, $2::text, $3::int, $4::jsonb, $5::jsonb, $6::timestamptz
		 WHERE NOT EXISTS (
		   SELECT 1 FROM attempts
		   WHERE assessment_id = $1 AND student_id = $2 AND attempt_number = $3
		 )
		 ON CONFLICT (assessment_id, student_id, attempt_number) DO UPDATE
		 SET answers = EXCLUDED.answers, question_order = EXCLUDED.question_order, saved_at = EXCLUDED.saved_at
		 WHERE attempt_drafts.saved_at <= EXCLUDED.saved_at`,
		d.AssessmentID, d.StudentID, d.AttemptNumber, string(answers), string(order), d.SavedAt,
	)
	return err
}

// DeleteDrafts removes the drafts of attempts that have been submitted.
func (r *DraftRepository) DeleteDrafts(ctx context.Context, drafts []model.Draft) error {
	n := len(drafts)
	if n == 0 {
		return nil
	}
	assessmentIDs := make([]uuid.UUID, n)
	studentIDs := make([]string, n)
	attempts := make([]int32, n)
	for i, d := range drafts {
		assessmentIDs[i] = d.AssessmentID
		studentIDs[i] = d.StudentID
		attempts[i] = int32(d.AttemptNumber)
	}

	_, err := r.pool.Exec(ctx, `
		DELETE FROM attempt_drafts AS d
		USING UNNEST($1::uuid[], $2::text[], $3::int[]) AS u (assessment_id, student_id, attempt_number)
		WHERE d.assessment_id = u.assessment_id
		  AND d.student_id = u.student_id
		  AND d.attempt_number = u.attempt_number`,
		assessmentIDs, studentIDs, attempts,
	)
	return err
}

// LoadDraft returns the persisted draft of an attempt. ok is false when the
// attempt has no draft.
func (r *DraftRepository) LoadDraft(ctx context.Context, assessmentID uuid.UUID, studentID string, attempt int) (*model.Draft, bool, error) {
	d := &model.Draft{AssessmentID: assessmentID, StudentID: studentID, AttemptNumber: attempt}
	var answers, order []byte
	err := r.pool.QueryRow(ctx,
		`SELECT answers, question_order, saved_at FROM attempt_drafts
		 WHERE assessment_id = $1 AND student_id = $2 AND attempt_number = $3`,
		assessmentID, studentID, attempt,
	).Scan(&answers, &order, &d.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifyPg("postgres.LoadDraft", err)
	}
	if err := json.Unmarshal(answers, &d.Answers); err != nil {
		return nil, false, fmt.Errorf("decode draft answers: %w", err)
	}
	if err := json.Unmarshal(order, &d.Order); err != nil {
		return nil, false, fmt.Errorf("decode draft order: %w", err)
	}
	return d, true, nil
}

func orderOrEmpty(order []int) []int {
	if order == nil {
		return []int{}
	}
	return order
}
