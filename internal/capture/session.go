// Package capture owns one recording session: device acquisition, segment
// cadence, elapsed time, and release.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/reel/internal/fsm"
	"github.com/rbright/reel/internal/media"
)

// Handlers receive session events. All calls are serialized; handlers must
// not call Stop synchronously.
type Handlers struct {
	OnSegment func(Segment)
	OnTick    func(elapsed int)
	OnError   func(error)
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Option customizes a Session.
type Option func(*Session)

// WithSegmentLog logs every emitted segment at info instead of debug.
func WithSegmentLog(enabled bool) Option {
	return func(s *Session) {
		if enabled {
			s.segmentLevel = slog.LevelInfo
		}
	}
}

// Session is a single capture lifecycle. The zero value is not usable; use NewSession.
type Session struct {
	devices      media.Devices
	constraints  media.Constraints
	handlers     Handlers
	logger       *slog.Logger
	segmentLevel slog.Level
	newTicker    func(time.Duration) ticker
	now          func() time.Time

	// lifecycle serializes Start and Stop; mu guards the fields below.
	lifecycle sync.Mutex
	mu        sync.Mutex

	state        fsm.State
	id           string
	stream       media.Stream
	elapsed      int
	lastDuration int
	hasLast      bool
	segments     []Segment
	nextSeq      int

	stopCh   chan struct{}
	loopDone chan struct{}
}

// NewSession constructs an idle session bound to one device source.
func NewSession(
	devices media.Devices,
	constraints media.Constraints,
	handlers Handlers,
	logger *slog.Logger,
	opts ...Option,
) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Session{
		devices:      devices,
		constraints:  constraints,
		handlers:     handlers,
		logger:       logger,
		segmentLevel: slog.LevelDebug,
		newTicker:    newTimeTicker,
		now:          time.Now,
		state:        fsm.StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start acquires the devices and begins the segment cadence. It is a no-op
// while Active. When ctx is done the session stops itself.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() == fsm.StateActive {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &media.DeviceAccessError{Err: err}
	}

	stream, err := s.devices.Open(ctx, s.constraints)
	if err != nil {
		return asDeviceAccessError(err)
	}

	s.mu.Lock()
	next, err := fsm.Transition(s.state, fsm.EventStart)
	if err != nil {
		s.mu.Unlock()
		_ = s.releaseTracks("", stream)
		return err
	}
	id := uuid.NewString()
	stopCh := make(chan struct{})
	loopDone := make(chan struct{})

	s.state = next
	s.id = id
	s.stream = stream
	s.elapsed = 0
	s.segments = nil
	s.nextSeq = 0
	s.stopCh = stopCh
	s.loopDone = loopDone
	s.mu.Unlock()

	s.logger.Info("session start", "session_id", id, "tracks", trackLabels(stream))

	go s.loop(s.newTicker(Cadence), stream, stopCh, loopDone)
	go s.watch(ctx, id, stopCh)
	return nil
}

// Stop releases every track and returns the finished session summary.
// It reports false, with no state change, when the session is Idle.
func (s *Session) Stop() (Summary, bool) {
	return s.stop("")
}

func (s *Session) stop(onlyID string) (Summary, bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != fsm.StateActive || (onlyID != "" && onlyID != s.id) {
		s.mu.Unlock()
		return Summary{}, false
	}
	id := s.id
	stream := s.stream
	stopCh := s.stopCh
	loopDone := s.loopDone
	s.mu.Unlock()

	close(stopCh)
	<-loopDone

	releaseErr := s.releaseTracks(id, stream)
	tail, drainErr := stream.Drain()

	s.mu.Lock()
	var last *Segment
	if len(tail) > 0 {
		seg := s.appendSegmentLocked(tail)
		last = &seg
	}

	summary := Summary{
		SessionID: s.id,
		Duration:  s.elapsed,
		Segments:  len(s.segments),
	}
	for _, seg := range s.segments {
		summary.Bytes += int64(seg.Size())
	}

	next, err := fsm.Transition(s.state, fsm.EventStop)
	if err == nil {
		s.state = next
	}
	s.lastDuration = s.elapsed
	s.hasLast = true
	s.elapsed = 0
	s.segments = nil
	s.stream = nil
	s.stopCh = nil
	s.loopDone = nil
	s.mu.Unlock()

	if last != nil {
		s.emitSegment(*last)
	}
	if drainErr != nil {
		s.emitError(drainErr)
	}
	if releaseErr != nil {
		s.emitError(releaseErr)
	}

	s.logger.Info("session complete",
		"session_id", summary.SessionID,
		"duration", FormatTime(summary.Duration),
		"segments", summary.Segments,
		"bytes", summary.Bytes,
	)
	return summary, true
}

// State returns the current lifecycle state.
func (s *Session) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns whole seconds since Start; 0 while Idle.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// LastDuration returns the elapsed value frozen by the most recent Stop.
func (s *Session) LastDuration() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDuration, s.hasLast
}

// Segments returns a snapshot of the segments emitted by the active session.
func (s *Session) Segments() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// ID returns the active (or most recent) session ID.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) loop(t ticker, stream media.Stream, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-t.C():
			s.tick(stream)
		}
	}
}

func (s *Session) tick(stream media.Stream) {
	data, drainErr := stream.Drain()

	s.mu.Lock()
	s.elapsed++
	elapsed := s.elapsed
	var seg *Segment
	if len(data) > 0 {
		appended := s.appendSegmentLocked(data)
		seg = &appended
	}
	s.mu.Unlock()

	if s.handlers.OnTick != nil {
		s.handlers.OnTick(elapsed)
	}
	if seg != nil {
		s.emitSegment(*seg)
	}
	if drainErr != nil {
		s.emitError(drainErr)
	}
}

func (s *Session) appendSegmentLocked(data []byte) Segment {
	s.nextSeq++
	seg := Segment{
		Sequence:   s.nextSeq,
		SessionID:  s.id,
		Data:       data,
		MimeType:   media.MimeType,
		CapturedAt: s.now(),
	}
	s.segments = append(s.segments, seg)
	return seg
}

// watch stops the session it was started for once the owner context ends.
func (s *Session) watch(ctx context.Context, id string, stopCh <-chan struct{}) {
	select {
	case <-stopCh:
	case <-ctx.Done():
		if _, stopped := s.stop(id); stopped {
			s.logger.Info("session stopped by owner teardown", "session_id", id, "cause", ctx.Err())
		}
	}
}

func (s *Session) emitSegment(seg Segment) {
	s.logger.Log(context.Background(), s.segmentLevel, "segment",
		"session_id", seg.SessionID,
		"sequence", seg.Sequence,
		"size", seg.Size(),
		"mime_type", seg.MimeType,
	)
	if s.handlers.OnSegment != nil {
		s.handlers.OnSegment(seg)
	}
}

func (s *Session) emitError(err error) {
	s.logger.Warn("session error", "error", err)
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *Session) releaseTracks(id string, stream media.Stream) error {
	var errs []error
	for _, track := range stream.Tracks() {
		if err := track.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("release %s track %q: %w", track.Kind(), track.Label(), err))
			continue
		}
		s.logger.Info("track released", "session_id", id, "kind", track.Kind(), "label", track.Label())
	}
	return errors.Join(errs...)
}

func trackLabels(stream media.Stream) []string {
	tracks := stream.Tracks()
	labels := make([]string, 0, len(tracks))
	for _, track := range tracks {
		labels = append(labels, fmt.Sprintf("%s:%s", track.Kind(), track.Label()))
	}
	return labels
}

func asDeviceAccessError(err error) error {
	var accessErr *media.DeviceAccessError
	if errors.As(err, &accessErr) {
		return err
	}
	return &media.DeviceAccessError{Err: err}
}
