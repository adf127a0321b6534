package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WriteJob is one database write. Jobs only see the DB interface, so a
// pgxpool.Pool serves them in production and tests can record the SQL.
type WriteJob interface {
	Execute(ctx context.Context, db DB) error
}

type WriteJobFunc func(ctx context.Context, db DB) error

func (f WriteJobFunc) Execute(ctx context.Context, db DB) error {
	return f(ctx, db)
}

// dropLogEvery limits the warnings for a saturated buffer to one per this
// many dropped jobs.
const dropLogEvery = 1000

type WriterConfig struct {
	// BufferSize is how many jobs wait for the writer before Enqueue starts
	// dropping them.
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// FlushTimeout bounds the execution of one batch.
	FlushTimeout time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	c.BufferSize = max(c.BufferSize, 0)
	c.BatchSize = max(c.BatchSize, 1)
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 10 * time.Second
	}
	return c
}

// WriterStats counts jobs by outcome since the writer was created.
type WriterStats struct {
	Written int64
	Failed  int64
	Dropped int64
}

// BatchWriter executes write jobs against a DB on one background goroutine.
// Recording must never slow the exchanges it records, so Enqueue does not
// wait: a job that finds the buffer full, or the writer shut down, is
// discarded and counted in WriterStats.Dropped. Queued jobs run in batches
// of BatchSize, or whatever has arrived after FlushInterval.
type BatchWriter struct {
	db     DB
	cfg    WriterConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan WriteJob

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	stopped chan struct{}
}

func NewBatchWriter(db DB, cfg WriterConfig) *BatchWriter {
	cfg = cfg.withDefaults()
	w := &BatchWriter{
		db:      db,
		cfg:     cfg,
		logger:  log.With().Str("component", "batch_writer").Logger(),
		jobs:    make(chan WriteJob, cfg.BufferSize),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands job to the writer and reports whether it was accepted.
func (w *BatchWriter) Enqueue(job WriteJob) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.closed {
		select {
		case w.jobs <- job:
			return true
		default:
		}
	}

	n := w.dropped.Add(1)
	if n%dropLogEvery == 1 {
		w.logger.Warn().Int64("dropped_total", n).Bool("closed", w.closed).Msg("dropping write job")
	}
	return false
}

func (w *BatchWriter) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}

func (w *BatchWriter) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]WriteJob, 0, w.cfg.BatchSize)
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				w.execute(batch)
				return
			}
			batch = append(batch, job)
			if len(batch) < w.cfg.BatchSize {
				continue
			}
		case <-ticker.C:
		}
		w.execute(batch)
		batch = batch[:0]
	}
}

func (w *BatchWriter) execute(batch []WriteJob) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
	defer cancel()

	for _, job := range batch {
		if err := job.Execute(ctx, w.db); err != nil {
			w.failed.Add(1)
			w.logger.Error().Err(err).Msg("write job failed")
			continue
		}
		w.written.Add(1)
	}
}

// Shutdown stops accepting jobs and waits until the queued ones have run
// or ctx is done. It may be called more than once.
func (w *BatchWriter) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
