package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/validator"
)

func main() {
	var file string
	flag.StringVar(&file, "file", "", "Path to an assessment JSON document")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	if file == "" {
		log.Fatal().Msg("-file is required")
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read assessment")
	}

	var a model.Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		log.Fatal().Err(err).Msg("Failed to decode assessment")
	}
	for i := range a.Theory {
		a.Theory[i].SetRubric(a.Theory[i].Rubric)
	}
	if fields := validator.Struct(a); fields != nil {
		log.Fatal().Interface("fields", fields).Msg("Assessment is invalid")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	if err := store.PutAssessment(ctx, &a); err != nil {
		log.Fatal().Err(err).Msg("Failed to store assessment")
	}

	log.Info().
		Str("id", a.ID.String()).
		Str("kind", string(a.Kind)).
		Int("questions", a.QuestionCount()).
		Msg("Assessment seeded")
}
