package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/pipeline"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/selfmetrics"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// ErrRetentionRejected is wrapped by Sink implementations when the batch
// contains data outside the retention window of the database.
var ErrRetentionRejected = errors.New("points beyond retention policy")

// Sink writes a batch of measurements.
type Sink interface {
	Write(ctx context.Context, batch []types.Measurement) error
}

const (
	DefaultMaxBufferSize    = 1_000_000
	DefaultMaxBatchSize     = 1_000
	DefaultRetryInterval    = 5 * time.Second
	DefaultMaxRetryInterval = 120 * time.Second
	DefaultTick             = time.Second

	warnBasePercent = 50
	warnStepPercent = 10
	writeTimeout    = 30 * time.Second
)

// Options configures an Engine. Zero values select the defaults above.
type Options struct {
	MaxBufferSize    int
	MaxBatchSize     int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	Tick             time.Duration
	Metrics          *selfmetrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = DefaultMaxBufferSize
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetryInterval < o.RetryInterval {
		o.MaxRetryInterval = DefaultMaxRetryInterval
		if o.MaxRetryInterval < o.RetryInterval {
			o.MaxRetryInterval = o.RetryInterval
		}
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
}

// Engine owns the delivery buffer. All state is confined to the goroutine
// calling Run (or Tick).
type Engine struct {
	queue *pipeline.Queue
	sink  Sink
	opts  Options

	buffer         []types.Measurement
	batchSize      int
	retry          backoff
	lastRetry      time.Time
	connectionLost bool
	outOfRetention bool
	warnPercent    int

	metrics *selfmetrics.Metrics
	logger  *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

func New(queue *pipeline.Queue, sink Sink, opts Options, logger *slog.Logger) *Engine {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:       queue,
		sink:        sink,
		opts:        opts,
		batchSize:   opts.MaxBatchSize,
		retry:       newBackoff(opts.RetryInterval, opts.MaxRetryInterval),
		warnPercent: warnBasePercent,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Run ticks until ctx is cancelled. Measurements still buffered on shutdown
// are dropped and counted in the log.
func (e *Engine) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		e.Tick(ctx)

		// Rejected old data is isolated without waiting between attempts.
		if e.outOfRetention && e.lastRetry.IsZero() {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.opts.Tick):
		}
	}

	dropped := len(e.buffer) + e.queue.Len()
	if dropped > 0 {
		e.logger.Warn("delivery: shutting down, dropping unsent measurements", "count", dropped)
		e.metrics.Dropped(selfmetrics.DropShutdown, dropped)
	}
	return nil
}

// Tick performs one drain, overflow check and, when the backoff gate allows
// it, one batch write.
func (e *Engine) Tick(ctx context.Context) {
	e.buffer = e.queue.Drain(e.buffer)
	e.checkBuffer()
	defer func() { e.metrics.DeliveryState(len(e.buffer), e.batchSize, e.retry.current) }()

	if len(e.buffer) == 0 {
		return
	}
	now := e.now()
	if !e.lastRetry.IsZero() && now.Sub(e.lastRetry) < e.retry.current {
		return
	}
	if ctx.Err() != nil {
		return
	}

	if e.outOfRetention {
		sort.SliceStable(e.buffer, func(i, j int) bool {
			return e.buffer[i].Timestamp.After(e.buffer[j].Timestamp)
		})
	}

	n := min(e.batchSize, len(e.buffer))
	batch := e.buffer[:n]

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	start := time.Now()
	err := e.sink.Write(wctx, batch)
	cancel()
	elapsed := time.Since(start)

	switch {
	case err == nil:
		e.metrics.Write(selfmetrics.WriteOK, n, elapsed)
		e.onSuccess(n)
	case errors.Is(err, ErrRetentionRejected):
		e.metrics.Write(selfmetrics.WriteRetention, n, elapsed)
		e.onRetentionRejected(batch, err)
	default:
		if ctx.Err() != nil {
			return
		}
		e.metrics.Write(selfmetrics.WriteError, n, elapsed)
		e.onError(now, err)
	}
}

func (e *Engine) onSuccess(n int) {
	rest := copy(e.buffer, e.buffer[n:])
	clear(e.buffer[rest:])
	e.buffer = e.buffer[:rest]
	e.logger.Debug("delivery: wrote batch", "count", n, "buffered", len(e.buffer))

	e.batchSize = min(e.batchSize*2, e.opts.MaxBatchSize)
	e.retry.reset()
	e.lastRetry = time.Time{}

	if len(e.buffer) > 0 {
		return
	}
	if e.connectionLost {
		e.logger.Info("delivery: connection to sink restored")
	}
	if e.outOfRetention {
		e.logger.Info("delivery: all buffered measurements within retention written")
	}
	e.connectionLost = false
	e.outOfRetention = false
}

func (e *Engine) onRetentionRejected(batch []types.Measurement, err error) {
	if !e.outOfRetention {
		e.logger.Warn("delivery: sink rejected measurements outside retention, isolating them", "err", err)
	}
	e.outOfRetention = true
	e.retry.zero()
	e.lastRetry = time.Time{}

	if e.batchSize > 1 {
		e.batchSize /= 2
		e.logger.Debug("delivery: reduced batch size", "batch_size", e.batchSize)
		return
	}

	cutoff := batch[0].Timestamp
	for _, m := range batch[1:] {
		if m.Timestamp.After(cutoff) {
			cutoff = m.Timestamp
		}
	}
	kept := e.buffer[:0]
	for _, m := range e.buffer {
		if m.Timestamp.After(cutoff) {
			kept = append(kept, m)
		}
	}
	purged := len(e.buffer) - len(kept)
	clear(e.buffer[len(kept):])
	e.buffer = kept

	e.logger.Error("delivery: purged measurements outside retention",
		"count", purged, "older_than", cutoff.Format(time.RFC3339))
	e.metrics.Dropped(selfmetrics.DropRetention, purged)

	if len(e.buffer) == 0 {
		e.outOfRetention = false
	}
}

func (e *Engine) onError(now time.Time, err error) {
	if !e.connectionLost {
		e.logger.Error("delivery: write failed, buffering measurements",
			"buffered", len(e.buffer), "err", err)
	}
	e.connectionLost = true
	e.lastRetry = now
	wait := e.retry.next()
	e.logger.Warn("delivery: will retry write", "retry_in", wait, "err", err)
}

// checkBuffer evicts the oldest measurements above the buffer limit and warns
// when usage crosses the current warning threshold.
func (e *Engine) checkBuffer() {
	limit := e.opts.MaxBufferSize
	if excess := len(e.buffer) - limit; excess > 0 {
		e.logger.Error("delivery: CRITICAL buffer limit exceeded, discarding oldest measurements",
			"limit", limit, "discarded", excess)
		clear(e.buffer[:excess])
		e.buffer = append(e.buffer[:0], e.buffer[excess:]...)
		e.metrics.Dropped(selfmetrics.DropOverflow, excess)
	}

	usage := len(e.buffer) * 100 / limit
	switch {
	case usage >= e.warnPercent:
		e.logger.Warn(fmt.Sprintf("delivery: buffer usage above %d%%", e.warnPercent),
			"buffered", len(e.buffer), "limit", limit)
		e.warnPercent += warnStepPercent
	case usage < warnBasePercent:
		e.warnPercent = warnBasePercent
	}
}

// Buffered returns the number of measurements waiting in the buffer.
func (e *Engine) Buffered() int { return len(e.buffer) }

// BatchSize returns the current adaptive batch size.
func (e *Engine) BatchSize() int { return e.batchSize }

// RetryInterval returns the current backoff delay.
func (e *Engine) RetryInterval() time.Duration { return e.retry.current }
