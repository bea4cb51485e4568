package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arcade-scores/internal/chain"
	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/store"
)

// Anchorer writes a score to the ledger
type Anchorer interface {
	Enabled() bool
	Anchor(ctx context.Context, playerAddress string, score, transactionCount int64) chain.Result
}

type anchorJob struct {
	rec    domain.ScoreRecord
	result chan chain.Result
}

// AnchorWorker anchors stored scores in the background so that submission
// latency does not depend on ledger congestion. A periodic sweep re-queues
// records that were stored but never anchored.
type AnchorWorker struct {
	anchor Anchorer
	store  store.ScoreStore
	config *config.AnchorWorkerConfig
	logger *slog.Logger
	now    func() time.Time

	jobs       chan anchorJob
	inflightMu sync.Mutex
	inflight   map[int64]struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// NewAnchorWorker creates a new anchor worker
func NewAnchorWorker(
	anchor Anchorer,
	s store.ScoreStore,
	cfg *config.AnchorWorkerConfig,
	logger *slog.Logger,
) *AnchorWorker {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AnchorWorker{
		anchor:   anchor,
		store:    s,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		jobs:     make(chan anchorJob, queueSize),
		inflight: make(map[int64]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the anchor goroutines and the unanchored sweep
func (w *AnchorWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	workers := w.config.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}

	if w.anchor.Enabled() && w.config.SweepInterval > 0 {
		w.wg.Add(1)
		go w.sweepLoop(ctx)
	}

	w.logger.Info("anchor worker started",
		"workers", workers,
		"queue_size", cap(w.jobs),
		"sweep_interval", w.config.SweepInterval,
	)
	return nil
}

// Stop waits for in-flight anchors to finish. Queued jobs are left for the
// next sweep.
func (w *AnchorWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()

	w.logger.Info("anchor worker stopped", "queued", len(w.jobs))
	return nil
}

// Enqueue schedules rec for anchoring without blocking. The returned channel
// receives exactly one result. It reports false if the queue is full, the
// record is already queued, or anchoring is disabled.
func (w *AnchorWorker) Enqueue(rec domain.ScoreRecord) (<-chan chain.Result, bool) {
	if !w.anchor.Enabled() {
		return nil, false
	}

	w.inflightMu.Lock()
	if _, ok := w.inflight[rec.ID]; ok {
		w.inflightMu.Unlock()
		return nil, false
	}
	w.inflight[rec.ID] = struct{}{}
	w.inflightMu.Unlock()

	job := anchorJob{rec: rec, result: make(chan chain.Result, 1)}
	select {
	case w.jobs <- job:
		return job.result, true
	default:
		w.release(rec.ID)
		w.logger.Warn("anchor queue full, record left for sweep", "record_id", rec.ID)
		return nil, false
	}
}

// Pending returns the number of queued jobs
func (w *AnchorWorker) Pending() int {
	return len(w.jobs)
}

func (w *AnchorWorker) release(id int64) {
	w.inflightMu.Lock()
	delete(w.inflight, id)
	w.inflightMu.Unlock()
}

// run is the main worker loop
func (w *AnchorWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case job := <-w.jobs:
			res := w.process(ctx, job.rec)
			w.release(job.rec.ID)
			job.result <- res
		}
	}
}

// process anchors one record, retrying failures that never reached the ledger
func (w *AnchorWorker) process(ctx context.Context, rec domain.ScoreRecord) chain.Result {
	attempts := w.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var res chain.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res = w.anchor.Anchor(ctx, rec.PlayerAddress, rec.Score, 1)
		if res.Success {
			if err := w.store.SetChainTxHash(ctx, rec.ID, res.TxHash); err != nil {
				w.logger.Error("failed to record chain tx hash",
					"record_id", rec.ID,
					"tx_hash", res.TxHash,
					"error", err,
				)
			}
			return res
		}

		// A broadcast transaction may still land; resending could double count.
		if res.TxHash != "" || res.Error == chain.ErrorDisabled {
			break
		}

		w.logger.Warn("anchor attempt failed",
			"record_id", rec.ID,
			"attempt", attempt,
			"error", res.Error,
		)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return res
		case <-w.stopCh:
			return res
		case <-time.After(w.config.RetryDelay):
		}
	}

	w.logger.Error("anchor failed, score kept local-only",
		"record_id", rec.ID,
		"player_address", rec.PlayerAddress,
		"tx_hash", res.TxHash,
		"error", res.Error,
	)

	// The sweep must never send this score again once a transaction exists
	if res.TxHash != "" {
		if err := w.store.MarkAnchorFailed(ctx, rec.ID, res.TxHash); err != nil {
			w.logger.Error("failed to mark anchor failed",
				"record_id", rec.ID,
				"tx_hash", res.TxHash,
				"error", err,
			)
		}
	}
	return res
}

func (w *AnchorWorker) sweepLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce queues unanchored records older than the sweep grace period and
// returns how many were queued.
func (w *AnchorWorker) RunOnce(ctx context.Context) int {
	if !w.anchor.Enabled() {
		return 0
	}

	startTime := time.Now()
	batch := w.config.SweepBatch
	if batch <= 0 {
		batch = 100
	}

	records, err := w.store.ListUnanchored(ctx, batch, w.now().Add(-w.config.SweepGrace))
	if err != nil {
		w.logger.Error("failed to list unanchored records", "error", err)
		return 0
	}

	queued := 0
	for _, rec := range records {
		if _, ok := w.Enqueue(rec); ok {
			queued++
		}
	}

	w.logger.Info("anchor sweep completed",
		"duration", time.Since(startTime),
		"found", len(records),
		"queued", queued,
	)
	return queued
}
