package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/cache"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

const (
	DraftBatchSize    = 50
	DraftBatchTimeout = 2 * time.Second
	DraftPollTimeout  = 1 * time.Second
)

// DraftSink is where queued drafts end up.
type DraftSink interface {
	UpsertDrafts(ctx context.Context, drafts []model.Draft) error
	UpsertDraft(ctx context.Context, d model.Draft) error
	DeleteDrafts(ctx context.Context, drafts []model.Draft) error
}

// FlushRecorder is told how many drafts each flush wrote and how many were
// requeued. op is "save" or "clear".
type FlushRecorder interface {
	DraftsFlushed(op string, written, failed int)
}

// DraftWorker consumes persist_drafts_queue and writes drafts to the sink in
// batches.
type DraftWorker struct {
	sink      DraftSink
	rdb       *redis.Client
	batchSize int
	batchWait time.Duration
	rec       FlushRecorder
	log       zerolog.Logger
}

// NewDraftWorker creates a new DraftWorker. Non-positive batch settings fall
// back to DraftBatchSize and DraftBatchTimeout.
func NewDraftWorker(sink DraftSink, rdb *redis.Client, batchSize int, batchWait time.Duration, log zerolog.Logger) *DraftWorker {
	if batchSize <= 0 {
		batchSize = DraftBatchSize
	}
	if batchWait <= 0 {
		batchWait = DraftBatchTimeout
	}
	return &DraftWorker{
		sink:      sink,
		rdb:       rdb,
		batchSize: batchSize,
		batchWait: batchWait,
		log:       log.With().Str("component", "draft_worker").Logger(),
	}
}

// WithRecorder attaches r to the worker.
func (w *DraftWorker) WithRecorder(r FlushRecorder) *DraftWorker {
	w.rec = r
	return w
}

func (w *DraftWorker) record(op cache.DraftOp, written, failed int) {
	if w.rec != nil {
		w.rec.DraftsFlushed(string(op), written, failed)
	}
}

// Start runs the worker loop until ctx is done, then flushes what it holds
// and drains the queue. Call in a goroutine.
func (w *DraftWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("DraftWorker started")

	batch := make([]cache.DraftPayload, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchWait) {
			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested, flushing")
			w.flush(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("DraftWorker stopped")
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, DraftPollTimeout, config.WorkerKey.PersistDraftsQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var p cache.DraftPayload
		if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
			w.log.Error().Err(err).Msg("Invalid draft payload")
			continue
		}
		batch = append(batch, p)
	}
}

// flush writes one batch and returns how many drafts it requeued. Only the
// last payload per attempt matters, so the batch is collapsed first. A failed
// bulk write falls back to row-by-row and requeues what still fails.
func (w *DraftWorker) flush(ctx context.Context, batch []cache.DraftPayload) int {
	if len(batch) == 0 {
		return 0
	}
	saves, clears := collapse(batch)
	requeued := 0

	if len(clears) > 0 {
		if err := w.sink.DeleteDrafts(ctx, clears); err != nil {
			w.log.Error().Err(err).Int("count", len(clears)).Msg("Draft delete failed, requeueing")
			w.requeue(ctx, cache.DraftOpClear, clears)
			w.record(cache.DraftOpClear, 0, len(clears))
			requeued += len(clears)
		} else {
			w.record(cache.DraftOpClear, len(clears), 0)
		}
	}
	if len(saves) == 0 {
		return requeued
	}

	if err := w.sink.UpsertDrafts(ctx, saves); err != nil {
		w.log.Warn().Err(err).Msg("Bulk draft upsert failed, using fallback")
		var failed []model.Draft
		for _, d := range saves {
			if err := w.sink.UpsertDraft(ctx, d); err != nil {
				w.log.Error().Err(err).
					Str("assessment_id", d.AssessmentID.String()).
					Str("student_id", d.StudentID).
					Msg("Draft upsert failed, requeueing")
				failed = append(failed, d)
			}
		}
		w.requeue(ctx, cache.DraftOpSave, failed)
		w.record(cache.DraftOpSave, len(saves)-len(failed), len(failed))
		return requeued + len(failed)
	}
	w.record(cache.DraftOpSave, len(saves), 0)
	w.log.Debug().Int("count", len(saves)).Msg("Drafts persisted")
	return requeued
}

func (w *DraftWorker) requeue(ctx context.Context, op cache.DraftOp, drafts []model.Draft) {
	if len(drafts) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, d := range drafts {
		raw, err := json.Marshal(cache.DraftPayload{Op: op, Draft: d})
		if err != nil {
			continue
		}
		pipe.RPush(ctx, config.WorkerKey.PersistDraftsQueue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(drafts)).Msg("Requeue failed, drafts lost")
	}
}

// drain persists everything left in the queue before shutdown. It stops at
// the first batch that requeues anything, leaving the rest queued.
func (w *DraftWorker) drain(ctx context.Context) {
	drained := 0
	for {
		items, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistDraftsQueue, w.batchSize).Result()
		if err != nil || len(items) == 0 {
			break
		}

		batch := make([]cache.DraftPayload, 0, len(items))
		for _, raw := range items {
			var p cache.DraftPayload
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				w.log.Error().Err(err).Msg("Drain unmarshal error")
				continue
			}
			batch = append(batch, p)
		}

		drained += len(batch)
		if w.flush(ctx, batch) > 0 {
			break
		}
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining drafts")
	}
}

// collapse keeps the last payload per attempt, preserving first-seen order.
func collapse(batch []cache.DraftPayload) (saves, clears []model.Draft) {
	type key struct {
		assessment string
		student    string
		attempt    int
	}
	latest := make(map[key]cache.DraftPayload, len(batch))
	var order []key
	for _, p := range batch {
		k := key{p.Draft.AssessmentID.String(), p.Draft.StudentID, p.Draft.AttemptNumber}
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = p
	}
	for _, k := range order {
		p := latest[k]
		if p.Op == cache.DraftOpClear {
			clears = append(clears, p.Draft)
		} else {
			saves = append(saves, p.Draft)
		}
	}
	return saves, clears
}
