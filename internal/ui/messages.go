package ui

import "github.com/rbright/reel/internal/capture"

// TickMsg carries the elapsed seconds after one cadence tick.
type TickMsg struct {
	Elapsed int
}

// SegmentMsg carries one emitted segment.
type SegmentMsg struct {
	Segment capture.Segment
}

// ErrorMsg surfaces an encoder, track, or upload failure.
type ErrorMsg struct {
	Err error
}

// StartedMsg reports the outcome of a start request.
type StartedMsg struct {
	Err error
}

// StoppedMsg reports the outcome of a stop request.
type StoppedMsg struct {
	Summary capture.Summary
	Stopped bool
}
