package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/reel/internal/capture"
	"github.com/rbright/reel/internal/fsm"
	"github.com/rbright/reel/internal/ipc"
	"github.com/rbright/reel/internal/media"
	"github.com/rbright/reel/internal/session"
	"github.com/rbright/reel/internal/upload"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "reel")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteInvalidConfigFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{"upload": {"sink": "ftp"}}`), 0o600))

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active reel session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "reel.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "active", Elapsed: "00:00:42"}
		case ipc.CommandStop, ipc.CommandToggle:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	outputs := map[string]string{}
	for _, cmd := range []string{"status", "stop", "toggle"} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
		outputs[cmd] = stdout.String()
	}

	got := []string{<-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "stop", "toggle"}, got)
	require.Equal(t, "active 00:00:42\n", outputs["status"])
	require.Equal(t, "stop handled\n", outputs["stop"])
	require.Equal(t, "toggle handled\n", outputs["toggle"])
}

func TestRunnerStopReportsOwnerRefusal(t *testing.T) {
	paths := setupRunnerEnv(t)
	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "reel.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "idle", Error: "cannot stop from state idle"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "cannot stop from state idle")
}

func TestRunnerToggleOwnsSessionUntilStopped(t *testing.T) {
	paths := setupRunnerEnv(t)
	devices := &fakeDevices{}

	var ownerOut, ownerErr bytes.Buffer
	owner := Runner{Stdout: &ownerOut, Stderr: &ownerErr, Devices: devices}

	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	}()

	socketPath := filepath.Join(paths.runtimeDir, "reel.sock")
	waitFor(t, func() bool {
		resp, err := ipc.Send(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, time.Second)
		return err == nil && resp.State == "active"
	})

	var statusOut bytes.Buffer
	require.Equal(t, 0, Runner{Stdout: &statusOut, Stderr: &bytes.Buffer{}}.Execute(context.Background(), []string{"--config", paths.configPath, "status"}))
	require.Regexp(t, `^active \d\d:\d\d:\d\d\n$`, statusOut.String())

	var stopOut bytes.Buffer
	require.Equal(t, 0, Runner{Stdout: &stopOut, Stderr: &bytes.Buffer{}}.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"}))
	require.Equal(t, "stop requested\n", stopOut.String())

	select {
	case code := <-done:
		require.Equal(t, 0, code, ownerErr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not exit after stop")
	}

	require.Contains(t, ownerOut.String(), "session ")
	require.Contains(t, ownerOut.String(), "segments")
	require.NotContains(t, ownerOut.String(), "upload")
	require.Equal(t, int32(2), devices.stops.Load())

	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerToggleInterruptIsNormalStop(t *testing.T) {
	paths := setupRunnerEnv(t)
	devices := &fakeDevices{}
	owner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Devices: devices}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(ctx, []string{"--config", paths.configPath, "toggle"})
	}()

	waitFor(t, func() bool { return devices.opened.Load() == 1 })
	cancel()

	select {
	case code := <-done:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not exit after interrupt")
	}
	require.Equal(t, int32(2), devices.stops.Load())
}

func TestRunnerToggleOwnerPathReturnsErrorWhenCaptureStartupFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	devices := &fakeDevices{openErr: &media.DeviceAccessError{Kind: media.TrackVideo, Err: errors.New("permission denied")}}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Devices: devices}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "failed to access camera/microphone")
	require.Contains(t, stderr.String(), "permission denied")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "reel.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "audio.device")
	require.Contains(t, stdout.String(), "upload.none")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "cameras:")
	require.Contains(t, stderr.String(), "error:")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reel.sock")
	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		if req.Command == ipc.CommandStatus {
			return ipc.Response{OK: true, State: "active"}
		}
		return ipc.Response{OK: false, Error: "unsupported"}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "active", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, "pause")
	require.True(t, handled)
	require.EqualError(t, err, "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reel.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "reel.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), `forward command "status":`)

	<-done
	require.NoError(t, listener.Close())
}

func TestFormatStatus(t *testing.T) {
	require.Equal(t, "idle", formatStatus(ipc.Response{}))
	require.Equal(t, "idle", formatStatus(ipc.Response{State: "idle", Elapsed: "00:00:01"}))
	require.Equal(t, "active 01:01:01", formatStatus(ipc.Response{State: "active", Elapsed: "01:01:01"}))
	require.Equal(t, "active", formatStatus(ipc.Response{State: "active"}))
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, capture.Summary{SessionID: "abc", Duration: 3661, Segments: 3661, Bytes: 2_500_000}, "none", upload.Stats{})
	require.Equal(t, "session abc: 01:01:01, 3661 segments, 2.5 MB\n", out.String())

	out.Reset()
	printSummary(&out, capture.Summary{SessionID: "abc"}, "http", upload.Stats{Sent: 4, Failed: 1, Dropped: 2})
	require.Contains(t, out.String(), "upload http: 4 sent, 1 failed, 2 dropped\n")
}

func TestUIStatusHandler(t *testing.T) {
	sess := capture.NewSession(&fakeDevices{}, media.Constraints{}, capture.Handlers{}, nil)
	handler := uiStatusHandler(sess)

	resp := handler.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Empty(t, resp.Elapsed)

	require.NoError(t, sess.Start(context.Background()))
	defer sess.Stop()

	resp = handler.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.Equal(t, "active", resp.State)
	require.Equal(t, "00:00:00", resp.Elapsed)
	require.Equal(t, sess.ID(), resp.SessionID)

	resp = handler.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "reel ui")
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		SessionID:  "abc",
		State:      fsm.StateIdle,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   2,
		Segments:   2,
		Bytes:      123,
	})
	require.Contains(t, logBuf.String(), "session result")
	require.Contains(t, logBuf.String(), `"bytes":123`)

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		State:      fsm.StateIdle,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

type fakeDevices struct {
	openErr error
	opened  atomic.Int32
	stops   atomic.Int32
}

func (f *fakeDevices) Open(context.Context, media.Constraints) (media.Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened.Add(1)
	return &fakeStream{tracks: []media.Track{
		&fakeTrack{kind: media.TrackVideo, stops: &f.stops},
		&fakeTrack{kind: media.TrackAudio, stops: &f.stops},
	}}, nil
}

type fakeStream struct {
	tracks []media.Track
}

func (f *fakeStream) Tracks() []media.Track  { return f.tracks }
func (f *fakeStream) Drain() ([]byte, error) { return []byte("webm"), nil }

type fakeTrack struct {
	kind  media.TrackKind
	once  sync.Once
	stops *atomic.Int32
}

func (f *fakeTrack) Kind() media.TrackKind { return f.kind }
func (f *fakeTrack) Label() string         { return "fake " + string(f.kind) }
func (f *fakeTrack) Stop() error {
	f.once.Do(func() { f.stops.Add(1) })
	return nil
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	config := `{
  // keep tests off the session bus and the sound server
  "indicator": { "enable": false, "sound_enable": false },
}
`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
