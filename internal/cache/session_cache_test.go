package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/engine/enginetest"
	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	_ engine.Journal  = (*SessionCache)(nil)
	_ engine.Observer = (*SessionCache)(nil)
)

func newCache(t *testing.T) (*SessionCache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewSessionCache(rdb, time.Hour, zerolog.Nop()), mr, rdb
}

func TestLoadOrStoreOrder_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newCache(t)
	id := uuid.New()

	got, err := c.LoadOrStoreOrder(ctx, id, "s1", 1, []int{2, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 2 {
		t.Fatalf("order = %v", got)
	}

	got, err = c.LoadOrStoreOrder(ctx, id, "s1", 1, []int{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 2 || got[1] != 0 || got[2] != 1 {
		t.Fatalf("reopened order = %v, want first stored order", got)
	}

	if ttl := mr.TTL(config.CacheKey.SessionOrderKey(id, "s1", 1)); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	other, err := c.LoadOrStoreOrder(ctx, id, "s1", 2, []int{1, 2, 0})
	if err != nil || other[0] != 1 {
		t.Fatalf("attempt 2 order = %v, %v", other, err)
	}
}

func TestSaveDraftQueuesPayload(t *testing.T) {
	ctx := context.Background()
	c, _, rdb := newCache(t)
	d := model.Draft{
		AssessmentID:  uuid.New(),
		StudentID:     "s1",
		AttemptNumber: 1,
		Answers:       model.ObjectiveAnswers([]int{1, -1}),
		Order:         []int{1, 0},
		SavedAt:       time.Now().UTC(),
	}

	if err := c.SaveDraft(ctx, d); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}

	got, ok, err := c.LoadDraft(ctx, d.AssessmentID, "s1", 1)
	if err != nil || !ok {
		t.Fatalf("LoadDraft = %v, %v", ok, err)
	}
	opts, _ := got.Answers.Objective()
	if opts[0] != 1 || opts[1] != model.Unanswered {
		t.Fatalf("draft answers = %v", opts)
	}

	raw, err := rdb.LPop(ctx, config.WorkerKey.PersistDraftsQueue).Result()
	if err != nil {
		t.Fatalf("queue empty: %v", err)
	}
	var p DraftPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	if p.Op != DraftOpSave || p.Draft.StudentID != "s1" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestClearDraftRemovesKeys(t *testing.T) {
	ctx := context.Background()
	c, mr, rdb := newCache(t)
	id := uuid.New()

	_, _ = c.LoadOrStoreOrder(ctx, id, "s1", 1, []int{0})
	_ = c.SaveDraft(ctx, model.Draft{AssessmentID: id, StudentID: "s1", AttemptNumber: 1, Answers: model.ObjectiveAnswers([]int{0})})

	if err := c.ClearDraft(ctx, id, "s1", 1); err != nil {
		t.Fatalf("ClearDraft: %v", err)
	}
	if mr.Exists(config.CacheKey.DraftAnswersKey(id, "s1", 1)) || mr.Exists(config.CacheKey.SessionOrderKey(id, "s1", 1)) {
		t.Fatal("keys survived ClearDraft")
	}
	if _, ok, _ := c.LoadDraft(ctx, id, "s1", 1); ok {
		t.Fatal("draft still loadable")
	}

	items, _ := rdb.LRange(ctx, config.WorkerKey.PersistDraftsQueue, 0, -1).Result()
	if len(items) != 2 {
		t.Fatalf("queue = %v", items)
	}
	var last DraftPayload
	_ = json.Unmarshal([]byte(items[1]), &last)
	if last.Op != DraftOpClear {
		t.Fatalf("last op = %s, want clear", last.Op)
	}
}

func TestMonitorEventsThroughSession(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)
	a := enginetest.ObjectiveExam(10, 1)

	sub := c.Subscribe(ctx, a.ID)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	events := sub.Channel()

	store := enginetest.NewMemoryStore()
	s, err := engine.NewSession(engine.Config{
		Assessment:    &a,
		StudentID:     "s7",
		AttemptNumber: 1,
		Store:         store,
		Clock:         enginetest.NewFakeClock(time.Now()),
		Journal:       c,
		Observer:      c,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetObjectiveAnswer(ctx, 0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(ctx); err != nil {
		t.Fatal(err)
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case msg := <-events:
			var ev MonitorEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				t.Fatal(err)
			}
			types = append(types, ev.Type)
			if ev.Type == EventAttemptSaved && (ev.Grade == nil || *ev.Grade != 10) {
				t.Fatalf("submitted event grade = %v", ev.Grade)
			}
		case <-timeout:
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != EventSessionOpened || types[1] != EventAttemptSaved {
		t.Fatalf("events = %v", types)
	}
}
