// Package upload forwards capture segments to an external sink.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/reel/internal/capture"
	"github.com/rbright/reel/internal/config"
)

// ErrQueueFull marks a segment dropped because the sink fell behind.
var ErrQueueFull = errors.New("upload queue full")

// Sink receives segments in order from a single goroutine.
type Sink interface {
	Send(context.Context, capture.Segment) error
	Close() error
}

// Prober is implemented by sinks that can check reachability without sending a segment.
type Prober interface {
	Probe(context.Context) error
}

// SendError reports one segment that did not reach the sink.
type SendError struct {
	Sequence int
	Err      error
}

func (e *SendError) Error() string {
	reason := "unknown error"
	if e.Err != nil {
		reason = e.Err.Error()
	}
	return "failed to send data to server: " + reason
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// New builds the sink selected by cfg.
func New(cfg config.UploadConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond

	switch cfg.Sink {
	case "", config.SinkNone:
		return NewNoopSink(logger), nil
	case config.SinkHTTP:
		return NewHTTPSink(cfg.Endpoint, timeout), nil
	case config.SinkGRPC:
		return NewGRPCSink(cfg.Endpoint)
	case config.SinkWebSocket:
		return NewWebSocketSink(cfg.Endpoint, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown upload sink %q", cfg.Sink)
	}
}
