// Package session runs one headless recording owner: it drives the capture
// session, the indicator, and the IPC commands that stop it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/reel/internal/capture"
	"github.com/rbright/reel/internal/fsm"
	"github.com/rbright/reel/internal/ipc"
)

type action int

const (
	actionStop action = iota + 1
)

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	SessionID   string
	State       fsm.State
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    int
	Segments    int
	Bytes       int64
	Interrupted bool
}

// Recorder is the controller-facing subset of capture.Session.
type Recorder interface {
	Start(context.Context) error
	Stop() (capture.Summary, bool)
	State() fsm.State
	Elapsed() int
	ID() string
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowRecording(context.Context)
	ShowError(context.Context, string)
	CueStop(context.Context)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowRecording(context.Context)     {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) CueStop(context.Context)           {}
func (noopIndicator) Hide(context.Context)              {}

// Controller owns one recorder for the lifetime of a headless run.
type Controller struct {
	logger    *slog.Logger
	recorder  Recorder
	indicator Indicator

	actions chan action
}

// NewController constructs a controller; a nil indicator disables feedback.
func NewController(logger *slog.Logger, recorder Recorder, indicator Indicator) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}
	return &Controller{
		logger:    logger,
		recorder:  recorder,
		indicator: indicator,
		actions:   make(chan action, 1),
	}
}

// State returns the recorder state snapshot.
func (c *Controller) State() fsm.State {
	return c.recorder.State()
}

// Run starts the recorder and blocks until a stop action arrives or ctx is
// cancelled. Cancellation is a normal stop, flagged as Interrupted.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}

	// The recorder outlives ctx so an interrupt still yields a summary from
	// the explicit Stop below; the deferred cancel is the teardown of last resort.
	recCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	if err := c.recorder.Start(recCtx); err != nil {
		c.indicator.ShowError(context.Background(), err.Error())
		result.State = c.recorder.State()
		result.Err = err
		result.FinishedAt = time.Now()
		return result
	}
	result.SessionID = c.recorder.ID()
	c.indicator.ShowRecording(ctx)

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		c.indicator.Hide(cleanupCtx)
	}()

	select {
	case <-ctx.Done():
		result.Interrupted = true
		c.logger.Info("session interrupted", "session_id", result.SessionID)
	case <-c.actions:
	}

	summary, stopped := c.recorder.Stop()
	c.indicator.CueStop(context.Background())
	if !stopped {
		result.Err = fmt.Errorf("session %s was already stopped", result.SessionID)
	}

	result.State = c.recorder.State()
	result.Duration = summary.Duration
	result.Segments = summary.Segments
	result.Bytes = summary.Bytes
	result.FinishedAt = time.Now()
	return result
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.status()
	case ipc.CommandToggle, ipc.CommandStop:
		return c.requestStop()
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) status() ipc.Response {
	state := c.State()
	resp := ipc.Response{OK: true, State: string(state), Message: "status"}
	if state == fsm.StateActive {
		resp.SessionID = c.recorder.ID()
		resp.Elapsed = capture.FormatTime(c.recorder.Elapsed())
	}
	return resp
}

// requestStop enqueues a stop action when state permits it.
func (c *Controller) requestStop() ipc.Response {
	state := c.State()
	if _, err := fsm.Transition(state, fsm.EventStop); fsm.IsInvalidTransition(err) {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
	}

	select {
	case c.actions <- actionStop:
		return ipc.Response{OK: true, State: string(state), SessionID: c.recorder.ID(), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(state), SessionID: c.recorder.ID(), Message: "stop already requested"}
	}
}
