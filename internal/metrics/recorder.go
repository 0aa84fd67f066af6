// Package metrics provides the invocation recording pipeline with buffered
// COPY-based writes.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/shiko-ai/shiko/internal/model"
	"github.com/shiko-ai/shiko/internal/storage"
	"github.com/shiko-ai/shiko/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered invocations to
// prevent OOM. Recording is best effort: past this limit Record drops the
// invocation and counts it rather than slowing the request path.
const maxBufferCapacity = 50_000

// Recorder accumulates invocation records in memory and flushes to the
// database using COPY when either the buffer size or flush timeout is reached.
type Recorder struct {
	db           *storage.DB
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu          sync.Mutex
	invocations []model.Invocation

	dropped atomic.Int64 // total invocations dropped at capacity
	started atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // set by Drain so final flush respects caller's deadline
}

// NewRecorder creates an invocation recorder.
func NewRecorder(db *storage.DB, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Recorder {
	return &Recorder{
		db:           db,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics. Call
// Drain to stop. A second Start is a no-op.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("metrics: recorder already started")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.flushLoop(loopCtx)
}

// Record buffers one completed invocation. It never blocks and never fails:
// at capacity the record is dropped and counted.
func (r *Recorder) Record(inv model.Invocation) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if len(r.invocations) >= maxBufferCapacity {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	r.invocations = append(r.invocations, inv)
	full := len(r.invocations) >= r.maxSize
	r.mu.Unlock()

	if full {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Dropped returns the total number of invocations dropped at capacity.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush. ctx is already done, so use the drain context
			// provided by Drain, which carries the caller's deadline.
			if r.drainCtx != nil {
				r.flush(r.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				r.flush(fallbackCtx)
				cancel()
			}
			close(r.done)
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-r.flushCh:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.invocations) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.invocations
	r.invocations = nil
	r.mu.Unlock()

	start := time.Now()
	count, err := r.db.InsertInvocations(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		r.logger.Error("metrics: flush failed", "error", err, "batch_size", len(batch))
		// Put the batch back for retry, but respect the capacity limit.
		r.mu.Lock()
		if len(r.invocations)+len(batch) <= maxBufferCapacity {
			r.invocations = append(batch, r.invocations...)
		} else {
			r.dropped.Add(int64(len(batch)))
			r.logger.Error("metrics: dropping invocations, buffer at capacity after flush failure", "dropped", len(batch))
		}
		r.mu.Unlock()
		return
	}

	r.logger.Debug("metrics: batch flushed",
		"batch_size", count,
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// Drain signals the background flush loop to stop, waits for its final
// flush, and returns. The ctx parameter bounds the wait and is passed to the
// final flush.
func (r *Recorder) Drain(ctx context.Context) {
	r.drainCtx = ctx
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("metrics: drain timed out waiting for flush loop")
	}
}

func (r *Recorder) registerMetrics() {
	meter := telemetry.Meter("shiko/metrics")

	_, _ = meter.Int64ObservableGauge("shiko.invocations.buffer_depth",
		metric.WithDescription("Current number of invocations in the write buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			r.mu.Lock()
			depth := len(r.invocations)
			r.mu.Unlock()
			o.Observe(int64(depth))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("shiko.invocations.dropped_total",
		metric.WithDescription("Total invocations dropped due to buffer capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.dropped.Load())
			return nil
		}),
	)
}
