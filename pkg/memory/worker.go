package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Task outcomes as recorded in metrics.
const (
	OutcomeOK      = "ok"
	OutcomeRetried = "retried"
	OutcomeDropped = "dropped"
)

// defaultPoll is how long an idle worker sleeps between queue checks.
const defaultPoll = 500 * time.Millisecond

// Workers drains the background task queue with a fixed pool of
// goroutines, retrying failed tasks with exponential backoff and
// dropping them once the retry budget is spent.
type Workers struct {
	queue        *Queue
	extractor    *Extractor
	consolidator *Consolidator
	recorder     observability.Recorder
	cfg          config.MemoryConfig
	poll         time.Duration
}

// NewWorkers builds the pool. A nil recorder disables metrics.
func NewWorkers(cfg config.MemoryConfig, queue *Queue, extractor *Extractor, consolidator *Consolidator, recorder observability.Recorder) *Workers {
	if recorder == nil {
		recorder = observability.NopRecorder{}
	}
	return &Workers{
		queue:        queue,
		extractor:    extractor,
		consolidator: consolidator,
		recorder:     recorder,
		cfg:          cfg,
		poll:         defaultPoll,
	}
}

// Run blocks processing tasks until ctx is cancelled.
func (w *Workers) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Workers) loop(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			if protocol.IsKind(err, protocol.KindDataIntegrity) {
				slog.Warn("dropping corrupt background task", "error", err)
				w.recorder.RecordMemoryTask(ctx, "unknown", OutcomeDropped)
			} else {
				slog.Warn("background task dequeue failed", "error", err)
			}
		case task != nil:
			w.process(ctx, *task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

func (w *Workers) process(ctx context.Context, task Task) {
	var err error
	switch task.Kind {
	case TaskExtract:
		_, err = w.extractor.Process(ctx, task)
	case TaskConsolidate:
		_, err = w.consolidator.Run(ctx, task.UserID)
	default:
		slog.Warn("unknown background task kind", "kind", task.Kind, "task_id", task.ID)
		w.recorder.RecordMemoryTask(ctx, task.Kind, OutcomeDropped)
		return
	}
	if err == nil {
		w.recorder.RecordMemoryTask(ctx, task.Kind, OutcomeOK)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if task.Attempts >= w.cfg.ExtractionRetries {
		slog.Warn("background task dropped after retries",
			"kind", task.Kind, "task_id", task.ID, "attempts", task.Attempts, "error", err)
		w.recorder.RecordMemoryTask(ctx, task.Kind, OutcomeDropped)
		return
	}
	delay := w.cfg.RetryBase << task.Attempts
	if rqErr := w.queue.Requeue(ctx, task, delay); rqErr != nil {
		slog.Warn("background task requeue failed",
			"kind", task.Kind, "task_id", task.ID, "error", rqErr)
		w.recorder.RecordMemoryTask(ctx, task.Kind, OutcomeDropped)
		return
	}
	slog.Debug("background task retried",
		"kind", task.Kind, "task_id", task.ID, "attempt", task.Attempts+1, "delay", delay)
	w.recorder.RecordMemoryTask(ctx, task.Kind, OutcomeRetried)
}
