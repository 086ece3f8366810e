package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbright/reel/internal/capture"
)

// NoopSink accepts every segment without forwarding it.
type NoopSink struct {
	logger *slog.Logger
}

func NewNoopSink(logger *slog.Logger) *NoopSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NoopSink{logger: logger}
}

func (s *NoopSink) Send(_ context.Context, seg capture.Segment) error {
	s.logger.Debug("segment discarded",
		"session_id", seg.SessionID,
		"sequence", seg.Sequence,
		"size", seg.Size(),
		"latency_ms", time.Since(seg.CapturedAt).Milliseconds(),
	)
	return nil
}

func (s *NoopSink) Close() error { return nil }
