package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

func main() {
	var attempt string
	var grade int
	flag.StringVar(&attempt, "attempt", "", "Attempt ID")
	flag.IntVar(&grade, "grade", -1, "Grade to record")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	attemptID, err := uuid.Parse(attempt)
	if err != nil {
		log.Fatal().Err(err).Msg("-attempt must be a UUID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	svc := service.NewAssessmentService(service.Deps{
		Store:  store,
		Grades: store,
		Policy: store,
	}, log)

	if _, err := svc.RecordGrade(ctx, attemptID, grade); err != nil {
		code := apperr.CodeOf(err)
		log.Fatal().Err(err).Str("code", string(code)).Msg(apperr.GetMessage(code))
	}
}
