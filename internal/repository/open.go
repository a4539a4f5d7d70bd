package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AssessmentStore is everything the engine and its tools need from a backend.
type AssessmentStore interface {
	LoadAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	LoadAttempts(ctx context.Context, studentID string, assessmentID uuid.UUID) ([]model.Attempt, error)
	SaveAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error)
	LoadAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	SetGrade(ctx context.Context, attemptID uuid.UUID, grade int) error
	RubricFor(ctx context.Context, questionID uuid.UUID) ([]model.RubricItem, bool, error)
	PutAssessment(ctx context.Context, a *model.Assessment) error
}

// Open connects to the backend selected by cfg.StoreDriver. The returned
// func releases it.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (AssessmentStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresStore(pool), pool.Close, nil
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLiteDSN, log)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteStore(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
