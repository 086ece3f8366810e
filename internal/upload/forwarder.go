package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/reel/internal/capture"
)

const (
	defaultQueueDepth  = 64
	defaultSendTimeout = 5 * time.Second
)

// ForwarderOptions tunes a Forwarder. Zero values take defaults.
type ForwarderOptions struct {
	QueueDepth int
	Timeout    time.Duration
	Logger     *slog.Logger
	OnError    func(error)
}

// Stats counts forwarder outcomes.
type Stats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

// Forwarder queues segments without blocking the caller and sends them in
// order from one worker. Failures are reported, never retried.
type Forwarder struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
	onError func(error)

	queue chan capture.Segment
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	// drops wakes reportDrops; pending drops are coalesced under dropMu.
	drops        chan struct{}
	dropsDone    chan struct{}
	dropMu       sync.Mutex
	pendingDrops int
	lastDropSeq  int

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewForwarder(sink Sink, opts ForwarderOptions) *Forwarder {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	f := &Forwarder{
		sink:    sink,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		onError: opts.OnError,
		queue:   make(chan capture.Segment, opts.QueueDepth),
		done:    make(chan struct{}),

		drops:     make(chan struct{}, 1),
		dropsDone: make(chan struct{}),
	}
	go f.run()
	go f.reportDrops()
	return f
}

// Enqueue hands a segment to the worker. It never blocks; a full queue drops
// the segment and reports it from a separate goroutine, folding drops that
// pile up while a report is in flight into one error. Segments enqueued after
// Close are ignored.
func (f *Forwarder) Enqueue(seg capture.Segment) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}

	select {
	case f.queue <- seg:
	default:
		f.dropped.Add(1)
		f.dropMu.Lock()
		f.pendingDrops++
		f.lastDropSeq = seg.Sequence
		f.dropMu.Unlock()

		select {
		case f.drops <- struct{}{}:
		default:
		}
	}
}

// Stats returns a snapshot of outcome counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		Sent:    f.sent.Load(),
		Failed:  f.failed.Load(),
		Dropped: f.dropped.Load(),
	}
}

// Close drains queued segments, then closes the sink. If ctx ends first the
// sink is closed anyway and the remaining segments are abandoned.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
		close(f.drops)
	}
	f.mu.Unlock()

	var drainErr error
	for _, done := range []chan struct{}{f.done, f.dropsDone} {
		if drainErr != nil {
			break
		}
		select {
		case <-done:
		case <-ctx.Done():
			drainErr = fmt.Errorf("drain upload queue: %w", ctx.Err())
		}
	}

	if err := f.sink.Close(); err != nil {
		return fmt.Errorf("close upload sink: %w", err)
	}
	return drainErr
}

func (f *Forwarder) run() {
	defer close(f.done)

	for seg := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		started := time.Now()
		err := f.sink.Send(ctx, seg)
		cancel()

		if err != nil {
			f.failed.Add(1)
			f.report(&SendError{Sequence: seg.Sequence, Err: err})
			continue
		}
		f.sent.Add(1)
		f.logger.Debug("segment sent",
			"session_id", seg.SessionID,
			"sequence", seg.Sequence,
			"size", seg.Size(),
			"send_ms", time.Since(started).Milliseconds(),
		)
	}
}

func (f *Forwarder) reportDrops() {
	defer close(f.dropsDone)

	for range f.drops {
		f.dropMu.Lock()
		count, seq := f.pendingDrops, f.lastDropSeq
		f.pendingDrops = 0
		f.dropMu.Unlock()

		switch {
		case count == 0:
			continue
		case count == 1:
			f.report(&SendError{Sequence: seq, Err: fmt.Errorf("segment %d: %w", seq, ErrQueueFull)})
		default:
			f.report(&SendError{Sequence: seq, Err: fmt.Errorf("%d segments through %d: %w", count, seq, ErrQueueFull)})
		}
	}
}

func (f *Forwarder) report(err error) {
	f.logger.Warn("upload failed", "error", err)
	if f.onError != nil {
		f.onError(err)
	}
}
