package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/reel/internal/capture"
	"github.com/rbright/reel/internal/fsm"
	"github.com/rbright/reel/internal/ipc"
	"github.com/stretchr/testify/require"
)

type fakeIndicator struct {
	recording atomic.Int32
	stopCues  atomic.Int32
	hides     atomic.Int32

	mu     sync.Mutex
	errors []string
}

func (f *fakeIndicator) ShowRecording(context.Context) { f.recording.Add(1) }
func (f *fakeIndicator) ShowError(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, text)
}
func (f *fakeIndicator) CueStop(context.Context) { f.stopCues.Add(1) }
func (f *fakeIndicator) Hide(context.Context)    { f.hides.Add(1) }

func (f *fakeIndicator) errorTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

type fakeRecorder struct {
	startErr error
	summary  capture.Summary

	mu      sync.Mutex
	state   fsm.State
	elapsed int
	startCt context.Context
	stops   atomic.Int32
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		state:   fsm.StateIdle,
		summary: capture.Summary{SessionID: "sess-1", Duration: 4, Segments: 4, Bytes: 4096},
	}
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.state = fsm.StateActive
	f.startCt = ctx
	return nil
}

func (f *fakeRecorder) Stop() (capture.Summary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != fsm.StateActive {
		return capture.Summary{}, false
	}
	f.stops.Add(1)
	f.state = fsm.StateIdle
	return f.summary, true
}

func (f *fakeRecorder) State() fsm.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRecorder) Elapsed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}

func (f *fakeRecorder) ID() string {
	if f.State() != fsm.StateActive {
		return ""
	}
	return f.summary.SessionID
}

func (f *fakeRecorder) startContext() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCt
}

func TestHandleStatusAndUnknownCommand(t *testing.T) {
	rec := newFakeRecorder()
	ctrl := NewController(nil, rec, nil)

	status := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateIdle), status.State)
	require.Empty(t, status.Elapsed)
	require.Empty(t, status.SessionID)

	unknown := ctrl.Handle(context.Background(), ipc.Request{Command: "cancel"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command: cancel")
}

func TestHandleStatusWhileActiveReportsElapsed(t *testing.T) {
	rec := newFakeRecorder()
	rec.state = fsm.StateActive
	rec.elapsed = 3661
	ctrl := NewController(nil, rec, nil)

	status := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, "active", status.State)
	require.Equal(t, "01:01:01", status.Elapsed)
	require.Equal(t, "sess-1", status.SessionID)
}

func TestStopFromIdleIsRefused(t *testing.T) {
	ctrl := NewController(nil, newFakeRecorder(), nil)

	for _, command := range []string{ipc.CommandStop, ipc.CommandToggle} {
		resp := ctrl.Handle(context.Background(), ipc.Request{Command: command})
		require.False(t, resp.OK, command)
		require.Equal(t, "cannot stop from state idle", resp.Error)
	}
}

func TestStopAlreadyRequested(t *testing.T) {
	rec := newFakeRecorder()
	rec.state = fsm.StateActive
	ctrl := NewController(nil, rec, nil)

	first := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, first.OK)
	require.Equal(t, "stop requested", first.Message)

	second := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.True(t, second.OK)
	require.Equal(t, "stop already requested", second.Message)
}

func TestRunStartFailure(t *testing.T) {
	rec := newFakeRecorder()
	rec.startErr = errors.New("failed to access camera/microphone: permission denied")
	ind := &fakeIndicator{}
	ctrl := NewController(nil, rec, ind)

	result := ctrl.Run(context.Background())
	require.ErrorIs(t, result.Err, rec.startErr)
	require.Equal(t, fsm.StateIdle, result.State)
	require.NotZero(t, result.FinishedAt)
	require.Empty(t, result.SessionID)
	require.Equal(t, int32(0), ind.recording.Load())
	require.Equal(t, int32(0), ind.stopCues.Load())
	require.Equal(t, []string{rec.startErr.Error()}, ind.errorTexts())
}

func TestRunStopsOnRequest(t *testing.T) {
	rec := newFakeRecorder()
	ind := &fakeIndicator{}
	ctrl := NewController(nil, rec, ind)

	done := make(chan Result, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	waitFor(t, func() bool { return rec.State() == fsm.StateActive })
	resp := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.True(t, resp.OK)

	result := waitResult(t, done)
	require.NoError(t, result.Err)
	require.False(t, result.Interrupted)
	require.Equal(t, fsm.StateIdle, result.State)
	require.Equal(t, "sess-1", result.SessionID)
	require.Equal(t, 4, result.Duration)
	require.Equal(t, 4, result.Segments)
	require.Equal(t, int64(4096), result.Bytes)
	require.False(t, result.FinishedAt.Before(result.StartedAt))
	require.Equal(t, int32(1), rec.stops.Load())
	require.Equal(t, int32(1), ind.recording.Load())
	require.Equal(t, int32(1), ind.stopCues.Load())
	require.Equal(t, int32(1), ind.hides.Load())
}

func TestRunInterruptIsNormalStop(t *testing.T) {
	rec := newFakeRecorder()
	ctrl := NewController(nil, rec, &fakeIndicator{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- ctrl.Run(ctx) }()

	waitFor(t, func() bool { return rec.State() == fsm.StateActive })
	cancel()

	result := waitResult(t, done)
	require.NoError(t, result.Err)
	require.True(t, result.Interrupted)
	require.Equal(t, 4, result.Duration)
	require.Equal(t, int32(1), rec.stops.Load())
}

func TestRunCancelsRecorderContextOnReturn(t *testing.T) {
	rec := newFakeRecorder()
	ctrl := NewController(nil, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- ctrl.Run(ctx) }()

	waitFor(t, func() bool { return rec.State() == fsm.StateActive })
	recCtx := rec.startContext()
	require.NoError(t, recCtx.Err(), "owner context must not reach the recorder before the explicit stop")

	cancel()
	waitResult(t, done)
	require.ErrorIs(t, recCtx.Err(), context.Canceled)
}

func TestRunReportsRecorderStoppedElsewhere(t *testing.T) {
	rec := newFakeRecorder()
	ctrl := NewController(nil, rec, nil)

	done := make(chan Result, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	waitFor(t, func() bool { return rec.State() == fsm.StateActive })
	_, ok := rec.Stop()
	require.True(t, ok)
	ctrl.actions <- actionStop

	result := waitResult(t, done)
	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "already stopped")
}

func waitResult(t *testing.T, done <-chan Result) Result {
	t.Helper()
	select {
	case result := <-done:
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run result")
		return Result{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
