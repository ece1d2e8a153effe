package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const (
	GradeBatchTimeout = 2 * time.Second
	GradePollTimeout  = 1 * time.Second
)

// GradeStore is the persistence the worker reads and writes. ApplyGrades
// must skip, and report as stale, every submission written since it was read.
type GradeStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	ApplyGrades(ctx context.Context, subs []*model.Submission) (stale []uuid.UUID, err error)
}

// Grader marks the objective answers of a submission.
type Grader interface {
	AutoGrade(ctx context.Context, sub *model.Submission) (bool, error)
}

// GradingWorker drains the auto-grading queue and writes objective marks in
// batches.
type GradingWorker struct {
	store     GradeStore
	grader    Grader
	rdb       *redis.Client
	batchSize int
	log       zerolog.Logger
}

func NewGradingWorker(store GradeStore, grader Grader, rdb *redis.Client, batchSize int, log zerolog.Logger) *GradingWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &GradingWorker{
		store:     store,
		grader:    grader,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.With().Str("component", "grading_worker").Logger(),
	}
}

type gradedItem struct {
	job service.GradeJob
	sub *model.Submission
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *GradingWorker) Start(ctx context.Context) {
	w.log.Info().Msg("GradingWorker started")

	batch := make([]gradedItem, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= GradeBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, GradePollTimeout, config.WorkerKey.AutoGradeQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var job service.GradeJob
			if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			if graded, ok := w.grade(ctx, job); ok {
				batch = append(batch, graded)
			}
		}
	}
}

// grade loads and auto-marks one submission. Submissions with nothing to
// mark are dropped from the batch.
func (w *GradingWorker) grade(ctx context.Context, job service.GradeJob) (gradedItem, bool) {
	log := w.log.With().Str("submission_id", job.SubmissionID.String()).Logger()

	sub, err := w.store.GetByID(ctx, job.SubmissionID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load submission, dropping job")
		return gradedItem{}, false
	}
	changed, err := w.grader.AutoGrade(ctx, sub)
	if errors.Is(err, service.ErrQuizNotFound) || errors.Is(err, service.ErrNoQuestions) {
		log.Error().Err(err).Msg("Quiz gone, dropping job")
		return gradedItem{}, false
	}
	if err != nil {
		log.Error().Err(err).Msg("Auto-grading failed, requeueing")
		w.requeue(ctx, job)
		return gradedItem{}, false
	}
	if !changed {
		log.Debug().Msg("Nothing to auto-grade")
		return gradedItem{}, false
	}
	return gradedItem{job: job, sub: sub}, true
}

// ----------------------------------------------------------------
// Batch update wrapper
// ----------------------------------------------------------------

func (w *GradingWorker) flushSafe(ctx context.Context, batch []gradedItem) {
	if len(batch) == 0 {
		return
	}

	subs := make([]*model.Submission, len(batch))
	for i, it := range batch {
		subs[i] = it.sub
	}

	stale, err := w.store.ApplyGrades(ctx, subs)
	if err != nil {
		w.log.Warn().Err(err).Msg("bulk grade update failed, using fallback")

		for _, it := range batch {
			stale, err := w.store.ApplyGrades(ctx, []*model.Submission{it.sub})
			if err != nil {
				w.log.Error().Err(err).Str("submission_id", it.job.SubmissionID.String()).Msg("single update failed, requeueing")
				w.requeue(ctx, it.job)
				continue
			}
			w.requeueStale(ctx, batch, stale)
		}
		return
	}
	w.requeueStale(ctx, batch, stale)

	w.log.Info().Int("count", len(batch)-len(stale)).Msg("Auto-grades persisted")
}

// requeueStale sends back the jobs whose submission changed after it was
// graded, typically by a teacher saving marks. The next pass only fills the
// answers that are still unmarked.
func (w *GradingWorker) requeueStale(ctx context.Context, batch []gradedItem, stale []uuid.UUID) {
	for _, id := range stale {
		for _, it := range batch {
			if it.sub.ID == id {
				w.log.Debug().Str("submission_id", id.String()).Msg("Submission changed while grading, requeueing")
				w.requeue(ctx, it.job)
				break
			}
		}
	}
}

func (w *GradingWorker) requeue(ctx context.Context, job service.GradeJob) {
	raw, _ := json.Marshal(job)
	w.rdb.RPush(ctx, config.WorkerKey.AutoGradeQueue, raw)
}
