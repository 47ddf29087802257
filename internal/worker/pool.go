package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/endrilickollari/ldp/internal/queue"
	"github.com/endrilickollari/ldp/internal/telemetry"
)

// Pool runs a fixed number of workers that drain the ready queue.
type Pool struct {
	queue    queue.Queue
	pipeline *Pipeline
	workers  int
	poll     time.Duration
	log      *slog.Logger
}

func NewPool(q queue.Queue, pipeline *Pipeline, workers int, poll time.Duration, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{queue: q, pipeline: pipeline, workers: workers, poll: poll, log: logger}
}

// Run blocks until ctx is cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reportDepth(ctx)
	}()

	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	log := p.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Error("dequeue failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if jobID == "" {
			p.sleep(ctx)
			continue
		}

		log.Debug("job dequeued", "job_id", jobID)
		p.pipeline.Process(ctx, jobID)
	}
}

func (p *Pool) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := p.queue.Depth(ctx); err == nil {
				telemetry.QueueDepthGauge.Set(float64(depth))
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.poll):
	}
}
