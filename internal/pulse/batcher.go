package pulse

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/zen/internal/metrics"
	"github.com/goodtune/zen/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxDelay is the upper bound of the randomized flush delay
	DefaultMaxDelay = 10 * time.Second

	// DefaultShutdownTimeout bounds the final drain when Run is cancelled
	DefaultShutdownTimeout = 30 * time.Second
)

// State is the position of the batcher in its flush cycle.
type State int32

const (
	// Accumulating means the current accumulator is empty and no timer is armed.
	Accumulating State = iota
	// FlushPending means at least one pulse was folded and the flush timer is armed.
	FlushPending
	// Draining is the step that swaps in a fresh accumulator and queues the snapshot.
	Draining
	// Stopped means Run has returned.
	Stopped
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case FlushPending:
		return "flush_pending"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Upserter persists one aggregated record.
type Upserter interface {
	UpsertOne(ctx context.Context, pulse storage.Pulse) (uint64, error)
}

// Config holds batcher configuration
type Config struct {
	MaxDelay        time.Duration
	QueueSize       int // capacity of the submit queue; zero makes Submit wait for the run loop
	ShutdownTimeout time.Duration

	// Clock schedules flush and shutdown timers. Defaults to RealClock.
	Clock Clock
	// Delay picks the flush delay for a cycle. Defaults to a uniform draw from [0, limit].
	Delay func(limit time.Duration) time.Duration
	// OnError is called for every record the writer failed to store.
	OnError func(record storage.Pulse, err error)
	// OnWrite is called after each record is stored.
	OnWrite func(record storage.Pulse, id uint64)
}

// Stats are cumulative batcher counters.
type Stats struct {
	Received uint64
	Rejected uint64
	Flushes  uint64
	Written  uint64
	Failed   uint64
	Pending  int64
}

// Batcher folds submitted pulses into an accumulator and flushes it after a
// random delay. A single goroutine owns the accumulator; a second goroutine
// writes flushed snapshots one after another, so every write of one batch
// finishes before the next batch starts.
type Batcher struct {
	store  Upserter
	cfg    Config
	logger zerolog.Logger

	in       chan Pulse
	stopping chan struct{}
	done     chan struct{}

	mu     sync.RWMutex
	closed bool

	running  atomic.Bool
	state    atomic.Int32
	received atomic.Uint64
	rejected atomic.Uint64
	flushes  atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64
	pending  atomic.Int64
}

// NewBatcher creates a batcher writing to store. Call Run to start it.
func NewBatcher(store Upserter, cfg Config, logger zerolog.Logger) *Batcher {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Delay == nil {
		cfg.Delay = uniformDelay
	}

	return &Batcher{
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pulse-batcher").Logger(),
		in:       make(chan Pulse, cfg.QueueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// uniformDelay draws a delay uniformly from [0, limit].
func uniformDelay(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit + 1)
}

// Submit validates p and queues it for aggregation. It returns once the pulse
// is accepted, without waiting for it to be stored.
func (b *Batcher) Submit(ctx context.Context, p Pulse) error {
	if err := p.Validate(); err != nil {
		b.rejected.Add(1)
		metrics.PulsesReceived.WithLabelValues("rejected").Inc()
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.in <- p:
		b.received.Add(1)
		metrics.PulsesReceived.WithLabelValues("accepted").Inc()
		metrics.PulseSecondsReceived.Add(p.Duration.InexactFloat64())
		return nil
	case <-b.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the current flush cycle state.
func (b *Batcher) State() State {
	return State(b.state.Load())
}

// Stats returns a snapshot of the batcher counters.
func (b *Batcher) Stats() Stats {
	return Stats{
		Received: b.received.Load(),
		Rejected: b.rejected.Load(),
		Flushes:  b.flushes.Load(),
		Written:  b.written.Load(),
		Failed:   b.failed.Load(),
		Pending:  b.pending.Load(),
	}
}

// Done is closed when Run returns.
func (b *Batcher) Done() <-chan struct{} {
	return b.done
}

// Run owns the accumulator until ctx is cancelled. On cancellation it stops
// accepting pulses, flushes what is left and waits for the writer to store
// every queued snapshot, giving up after the shutdown timeout.
func (b *Batcher) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("pulse: batcher already running")
	}
	defer close(b.done)
	defer b.setState(Stopped)

	writeCtx, cancelWrites := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWrites()

	snapshots := make(chan Accumulator)
	writerDone := make(chan struct{})
	go b.write(writeCtx, snapshots, writerDone)

	b.logger.Info().Dur("max_delay", b.cfg.MaxDelay).Msg("Pulse batcher started")

	var (
		acc     Accumulator
		timer   <-chan time.Time
		armedAt time.Time
		queue   []Accumulator
	)

	for {
		// Only offer a snapshot to the writer when one is queued
		var out chan Accumulator
		var next Accumulator
		if len(queue) > 0 {
			out = snapshots
			next = queue[0]
		}

		select {
		case p := <-b.in:
			acc = b.fold(acc, p)
			if timer == nil {
				delay := b.cfg.Delay(b.cfg.MaxDelay)
				timer = b.cfg.Clock.After(delay)
				armedAt = b.cfg.Clock.Now()
				b.setState(FlushPending)
				b.logger.Debug().Dur("delay", delay).Msg("Flush scheduled")
			}

		case <-timer:
			timer = nil
			metrics.FlushDelay.Observe(b.cfg.Clock.Now().Sub(armedAt).Seconds())
			queue = b.drain(acc, queue)
			acc = Accumulator{}
			b.setState(Accumulating)

		case out <- next:
			queue[0] = Accumulator{}
			queue = queue[1:]

		case <-ctx.Done():
			return b.shutdown(acc, queue, snapshots, writerDone, cancelWrites)
		}
	}
}

func (b *Batcher) fold(acc Accumulator, p Pulse) Accumulator {
	p.StartTime = StartOfHour(p.StartTime)
	b.logger.Debug().
		Str("origin", p.Origin).
		Str("start", time.UnixMilli(p.StartTime).UTC().Format(time.RFC3339)).
		Str("duration", p.Duration.String()).
		Msg("Pulse to update")
	return acc.Fold(p)
}

// drain queues a snapshot of acc for the writer. The caller installs the
// fresh accumulator in the same step.
func (b *Batcher) drain(acc Accumulator, queue []Accumulator) []Accumulator {
	b.setState(Draining)
	if acc.IsEmpty() {
		return queue
	}
	b.flushes.Add(1)
	b.pending.Add(1)
	metrics.BatchesFlushed.Inc()
	metrics.BatchSize.Observe(float64(acc.Len()))
	metrics.PendingBatches.Inc()
	b.logger.Debug().Int("records", acc.Len()).Str("total", acc.Total().String()).Msg("Batch flushed")
	return append(queue, acc)
}

func (b *Batcher) shutdown(acc Accumulator, queue []Accumulator, snapshots chan<- Accumulator, writerDone <-chan struct{}, cancelWrites context.CancelFunc) error {
	b.logger.Info().Msg("Pulse batcher stopping")

	// Wake blocked submitters, then wait for in-flight ones to leave
	close(b.stopping)
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

drainInput:
	for {
		select {
		case p := <-b.in:
			acc = b.fold(acc, p)
		default:
			break drainInput
		}
	}
	queue = b.drain(acc, queue)

	go func() {
		for _, snapshot := range queue {
			snapshots <- snapshot
		}
		close(snapshots)
	}()

	select {
	case <-writerDone:
		b.logger.Info().Msg("Pulse batcher stopped")
		return nil
	case <-b.cfg.Clock.After(b.cfg.ShutdownTimeout):
		cancelWrites()
		<-writerDone
		b.logger.Warn().Dur("timeout", b.cfg.ShutdownTimeout).Msg("Pulse batcher shutdown timed out; pending records dropped")
		return context.DeadlineExceeded
	}
}

func (b *Batcher) write(ctx context.Context, snapshots <-chan Accumulator, done chan<- struct{}) {
	defer close(done)
	for snapshot := range snapshots {
		for _, p := range snapshot.Decompose() {
			b.upsert(ctx, p.Record())
		}
		b.pending.Add(-1)
		metrics.PendingBatches.Dec()
	}
}

// upsert stores one record. Failures are reported and the writer moves on to
// the next record; there is no retry.
func (b *Batcher) upsert(ctx context.Context, record storage.Pulse) {
	start := time.Now()
	id, err := b.store.UpsertOne(ctx, record)
	metrics.UpsertDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		b.failed.Add(1)
		metrics.UpsertsTotal.WithLabelValues("error").Inc()
		b.logger.Error().Err(err).
			Str("origin", record.Origin).
			Int64("start_time", record.StartTime).
			Str("duration", record.Duration.String()).
			Msg("Failed to upsert pulse")
		if b.cfg.OnError != nil {
			b.cfg.OnError(record, err)
		}
		return
	}

	b.written.Add(1)
	metrics.UpsertsTotal.WithLabelValues("ok").Inc()
	if b.cfg.OnWrite != nil {
		b.cfg.OnWrite(record, id)
	}
	b.logger.Debug().
		Uint64("id", id).
		Str("origin", record.Origin).
		Str("increment", record.Duration.String()).
		Str("start", time.UnixMilli(record.StartTime).UTC().Format(time.RFC3339)).
		Msg("Updated pulse")
}

func (b *Batcher) setState(s State) {
	b.state.Store(int32(s))
}
