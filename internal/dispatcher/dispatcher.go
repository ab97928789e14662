// Package dispatcher queues crawl runs and executes them one at a time.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/queue/memory"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
)

// ErrFinished is returned when canceling a run that already ended.
var ErrFinished = errors.New("run already finished")

// Crawler executes one run.
type Crawler interface {
	Run(ctx context.Context, runID string, platform crawler.Platform, seeds []sources.Seed) (crawler.Summary, error)
}

// Job is a queued crawl.
type Job struct {
	RunID    string
	Platform crawler.Platform
	Seeds    []sources.Seed
}

// Dispatcher feeds queued jobs to the crawler sequentially.
type Dispatcher struct {
	queue   *memory.Queue[Job]
	crawler Crawler
	runs    crawler.RunStore
	clock   crawler.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a Dispatcher.
func New(queue *memory.Queue[Job], c Crawler, runs crawler.RunStore, clock crawler.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		crawler: c,
		runs:    runs,
		clock:   clock,
		logger:  logger.Named("dispatcher"),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit records job as queued and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	run := crawler.Run{
		ID:        job.RunID,
		Platform:  job.Platform,
		Status:    crawler.RunQueued,
		SeedCount: len(job.Seeds),
		Created:   d.clock.Now(),
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		if uerr := d.runs.UpdateRun(context.WithoutCancel(ctx), job.RunID, crawler.RunFailed, nil, err.Error()); uerr != nil {
			d.logger.Error("mark unqueued run failed", zap.String("run_id", job.RunID), zap.Error(uerr))
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Info("run queued", zap.String("run_id", job.RunID), zap.String("platform", string(job.Platform)))
	return nil
}

// Run blocks, executing jobs until ctx ends or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			d.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		d.execute(ctx, job)
	}
}

// Cancel stops a running job or drops a queued one.
func (d *Dispatcher) Cancel(ctx context.Context, runID string) error {
	d.mu.Lock()
	cancel, running := d.cancels[runID]
	d.mu.Unlock()
	if running {
		cancel()
		return nil
	}
	run, err := d.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrFinished
	}
	return d.runs.UpdateRun(ctx, runID, crawler.RunCanceled, nil, "canceled before start")
}

func (d *Dispatcher) execute(ctx context.Context, job Job) {
	logger := d.logger.With(zap.String("run_id", job.RunID), zap.String("platform", string(job.Platform)))
	run, err := d.runs.GetRun(ctx, job.RunID)
	if err != nil {
		logger.Error("load run failed", zap.Error(err))
		return
	}
	if run.Status.Terminal() {
		logger.Info("skipping finished run", zap.String("status", string(run.Status)))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancels[job.RunID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.cancels, job.RunID)
		d.mu.Unlock()
		cancel()
	}()

	if err := d.runs.UpdateRun(ctx, job.RunID, crawler.RunRunning, nil, ""); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	summary, err := d.crawler.Run(runCtx, job.RunID, job.Platform, job.Seeds)
	status, errText := deriveFinalStatus(summary, err)

	var attached *crawler.Summary
	if err == nil {
		attached = &summary
	}
	if uerr := d.runs.UpdateRun(context.WithoutCancel(ctx), job.RunID, status, attached, errText); uerr != nil {
		logger.Error("final run status update failed", zap.Error(uerr))
	}
	logger.Info("run finished", zap.String("status", string(status)))
}

func deriveFinalStatus(summary crawler.Summary, err error) (crawler.RunStatus, string) {
	switch {
	case err != nil:
		return crawler.RunFailed, err.Error()
	case summary.Canceled:
		return crawler.RunCanceled, ""
	default:
		return crawler.RunSucceeded, ""
	}
}
