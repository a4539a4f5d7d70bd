// Package cache keeps per-session state in Redis: the display order fixed at
// first open, the latest answer draft, and the monitor event stream.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// DefaultTTL bounds how long order and draft keys outlive their session.
const DefaultTTL = 24 * time.Hour

// DraftOp tells the draft worker what to do with a queued payload.
type DraftOp string

const (
	DraftOpSave  DraftOp = "save"
	DraftOpClear DraftOp = "clear"
)

// DraftPayload is one entry of the persist_drafts_queue list.
type DraftPayload struct {
	Op    DraftOp     `json:"op"`
	Draft model.Draft `json:"draft"`
}

// MonitorEvent is published on an assessment's monitor channel.
type MonitorEvent struct {
	Type          string    `json:"type"`
	AssessmentID  uuid.UUID `json:"assessment_id"`
	StudentID     string    `json:"student_id"`
	AttemptNumber int       `json:"attempt_number"`
	Trigger       string    `json:"trigger,omitempty"`
	Grade         *int      `json:"grade,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

const (
	EventSessionOpened = "session_opened"
	EventAttemptSaved  = "attempt_submitted"
	EventSubmitFailed  = "submit_failed"
	publishTimeout     = 2 * time.Second
)

// SessionCache implements engine.Journal and engine.Observer on Redis.
type SessionCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// NewSessionCache creates a new SessionCache.
func NewSessionCache(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionCache{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
		log: log.With().Str("component", "session_cache").Logger(),
	}
}

// LoadOrStoreOrder saves order as the display order of an attempt unless one
// is already stored, and returns whichever order is now authoritative.
func (c *SessionCache) LoadOrStoreOrder(ctx context.Context, assessmentID uuid.UUID, studentID string, attempt int, order []int) ([]int, error) {
	key := config.CacheKey.SessionOrderKey(assessmentID, studentID, attempt)
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	ok, err := c.rdb.SetNX(ctx, key, raw, c.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}
	if ok {
		return order, nil
	}

	existing, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	var stored []int
	if err := json.Unmarshal(existing, &stored); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return stored, nil
}

// SaveDraft stores the latest snapshot and queues it for the draft worker.
func (c *SessionCache) SaveDraft(ctx context.Context, d model.Draft) error {
	snapshot, err := json.Marshal(d)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(DraftPayload{Op: DraftOpSave, Draft: d})
	if err != nil {
		return err
	}

	key := config.CacheKey.DraftAnswersKey(d.AssessmentID, d.StudentID, d.AttemptNumber)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, snapshot, c.ttl)
		pipe.RPush(ctx, config.WorkerKey.PersistDraftsQueue, payload)
		return nil
	})
	return err
}

// LoadDraft returns the latest snapshot of an open attempt.
func (c *SessionCache) LoadDraft(ctx context.Context, assessmentID uuid.UUID, studentID string, attempt int) (*model.Draft, bool, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.DraftAnswersKey(assessmentID, studentID, attempt)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	d := &model.Draft{}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, false, fmt.Errorf("decode draft: %w", err)
	}
	return d, true, nil
}

// ClearDraft drops the snapshot and the stored order once an attempt is
// persisted, and queues removal of the durable draft row.
func (c *SessionCache) ClearDraft(ctx context.Context, assessmentID uuid.UUID, studentID string, attempt int) error {
	payload, err := json.Marshal(DraftPayload{Op: DraftOpClear, Draft: model.Draft{
		AssessmentID:  assessmentID,
		StudentID:     studentID,
		AttemptNumber: attempt,
		SavedAt:       c.now(),
	}})
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			config.CacheKey.DraftAnswersKey(assessmentID, studentID, attempt),
			config.CacheKey.SessionOrderKey(assessmentID, studentID, attempt),
		)
		pipe.RPush(ctx, config.WorkerKey.PersistDraftsQueue, payload)
		return nil
	})
	return err
}

// Subscribe opens a subscription to an assessment's monitor channel.
func (c *SessionCache) Subscribe(ctx context.Context, assessmentID uuid.UUID) *redis.PubSub {
	return c.rdb.Subscribe(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID))
}

func (c *SessionCache) SessionOpened(a *model.Assessment, studentID string, attempt int) {
	c.publish(MonitorEvent{
		Type:          EventSessionOpened,
		AssessmentID:  a.ID,
		StudentID:     studentID,
		AttemptNumber: attempt,
	})
}

func (c *SessionCache) SessionSubmitted(a *model.Assessment, attempt *model.Attempt) {
	c.publish(MonitorEvent{
		Type:          EventAttemptSaved,
		AssessmentID:  a.ID,
		StudentID:     attempt.StudentID,
		AttemptNumber: attempt.AttemptNumber,
		Trigger:       string(attempt.Trigger),
		Grade:         attempt.Grade,
	})
}

func (c *SessionCache) SubmitFailed(a *model.Assessment, attempt *model.Attempt, err error) {
	c.publish(MonitorEvent{
		Type:          EventSubmitFailed,
		AssessmentID:  a.ID,
		StudentID:     attempt.StudentID,
		AttemptNumber: attempt.AttemptNumber,
		Trigger:       string(attempt.Trigger),
		Error:         err.Error(),
	})
}

// publish is fire-and-forget; monitor events never block a session.
func (c *SessionCache) publish(ev MonitorEvent) {
	ev.At = c.now()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.rdb.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(ev.AssessmentID), data).Err(); err != nil {
		c.log.Warn().Err(err).Str("event", ev.Type).Msg("Monitor publish failed")
	}
}
