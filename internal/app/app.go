// Package app wires configuration, capture, upload, IPC, and the UI into the
// reel command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/rbright/reel/internal/audio"
	"github.com/rbright/reel/internal/capture"
	"github.com/rbright/reel/internal/cli"
	"github.com/rbright/reel/internal/config"
	"github.com/rbright/reel/internal/doctor"
	"github.com/rbright/reel/internal/fsm"
	"github.com/rbright/reel/internal/indicator"
	"github.com/rbright/reel/internal/ipc"
	"github.com/rbright/reel/internal/logging"
	"github.com/rbright/reel/internal/media"
	"github.com/rbright/reel/internal/session"
	"github.com/rbright/reel/internal/ui"
	"github.com/rbright/reel/internal/upload"
	"github.com/rbright/reel/internal/version"
	"github.com/rbright/reel/internal/video"
)

const (
	forwardTimeout    = 220 * time.Millisecond
	acquireProbe      = 180 * time.Millisecond
	acquireRetries    = 8
	forwarderDrainPad = time.Second
	cueDrainTimeout   = 2 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Devices overrides the ffmpeg-backed capture devices.
	Devices media.Devices
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("reel"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("reel"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	level := new(slog.LevelVar)
	logRuntime, err := logging.New(level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	if cfgLoaded.Config.Debug.SegmentLog {
		level.Set(slog.LevelDebug)
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandToggle:
		return r.commandToggle(ctx, cfgLoaded.Config, logger)
	case cli.CommandUI:
		return r.commandUI(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	exitCode := 0

	fmt.Fprintln(r.Stdout, "cameras:")
	cameras, err := video.ListDevices()
	switch {
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		exitCode = 1
	case len(cameras) == 0:
		fmt.Fprintln(r.Stdout, "  (none)")
	}
	for _, cam := range cameras {
		fmt.Fprintf(r.Stdout, "  path=%s | name=%q\n", cam.Path, cam.Name)
	}

	fmt.Fprintln(r.Stdout, "microphones:")
	mics, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(mics) == 0 {
		fmt.Fprintln(r.Stdout, "  (none)")
	}
	for _, device := range mics {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return exitCode
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, fsm.StateIdle)
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, fsm.StateIdle)
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, formatStatus(resp))
	return 0
}

func formatStatus(resp ipc.Response) string {
	state := resp.State
	if state == "" {
		state = string(fsm.StateIdle)
	}
	if state == string(fsm.StateActive) && resp.Elapsed != "" {
		return state + " " + resp.Elapsed
	}
	return state
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active reel session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
		return code
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: acquireProbe, Retries: acquireRetries, Logger: logger})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
				return code
			}
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	ind := indicator.NewDesktop(cfg.Indicator, logger)
	defer waitTimeout(ind.Wait, cueDrainTimeout)

	report := func(err error) {
		logger.Warn("capture error", "error", err.Error())
		ind.ShowError(context.Background(), err.Error())
	}
	owner, err := r.newOwner(cfg, logger, capture.Handlers{OnError: report}, report)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	controller := session.NewController(logger, owner.session, ind)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controller, ipc.WithLogger(logger))
	}()

	result := controller.Run(ctx)
	serverCancel()
	serverErr := <-serverErrCh
	stats := owner.close(cfg.Upload, logger)

	logSessionResult(logger, result)

	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}

	printSummary(r.Stdout, capture.Summary{
		SessionID: result.SessionID,
		Duration:  result.Duration,
		Segments:  result.Segments,
		Bytes:     result.Bytes,
	}, cfg.Upload.Sink, stats)
	return 0
}

// forwardToggle hands toggle to a running owner. forwarded is false when no
// owner answered.
func (r Runner) forwardToggle(ctx context.Context, socketPath string) (code int, forwarded bool) {
	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if !handled {
		return 0, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1, true
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0, true
}

func (r Runner) commandUI(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: acquireProbe, Retries: acquireRetries, Logger: logger})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a reel recording is already running; stop it first")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	bridge := &ui.Bridge{}
	owner, err := r.newOwner(cfg, logger, bridge.Handlers(), bridge.Error)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, uiStatusHandler(owner.session), ipc.WithLogger(logger))
	}()

	program := tea.NewProgram(ui.New(ctx, owner.session), tea.WithContext(ctx), tea.WithOutput(r.Stdout))
	bridge.Attach(program)
	_, runErr := program.Run()
	bridge.Detach()

	summary, stopped := owner.session.Stop()
	serverCancel()
	serverErr := <-serverErrCh
	stats := owner.close(cfg.Upload, logger)

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	}
	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}
	if stopped {
		printSummary(r.Stdout, summary, cfg.Upload.Sink, stats)
	}
	return 0
}

// uiStatusHandler answers status for a UI-owned session. The UI owns
// start/stop, so remote stop requests are refused.
func uiStatusHandler(rec *capture.Session) ipc.Handler {
	return ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		state := rec.State()
		switch req.Command {
		case ipc.CommandStatus:
			resp := ipc.Response{OK: true, State: string(state), Message: "status"}
			if state == fsm.StateActive {
				resp.SessionID = rec.ID()
				resp.Elapsed = capture.FormatTime(rec.Elapsed())
			}
			return resp
		case ipc.CommandStop, ipc.CommandToggle:
			return ipc.Response{OK: false, State: string(state), Error: "session is owned by reel ui"}
		default:
			return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("unknown command: %s", req.Command)}
		}
	})
}

// owner bundles one capture session with the forwarder its segments feed.
type owner struct {
	session   *capture.Session
	forwarder *upload.Forwarder
}

func (r Runner) newOwner(cfg config.Config, logger *slog.Logger, handlers capture.Handlers, onUploadError func(error)) (*owner, error) {
	sink, err := upload.New(cfg.Upload, logger)
	if err != nil {
		return nil, err
	}
	forwarder := upload.NewForwarder(sink, upload.ForwarderOptions{
		QueueDepth: cfg.Upload.QueueDepth,
		Timeout:    time.Duration(cfg.Upload.TimeoutMS) * time.Millisecond,
		Logger:     logger,
		OnError:    onUploadError,
	})

	devices := r.Devices
	if devices == nil {
		devices = media.NewFFmpeg(cfg.FFmpeg.Argv, logger)
	}

	next := handlers.OnSegment
	handlers.OnSegment = func(seg capture.Segment) {
		forwarder.Enqueue(seg)
		if next != nil {
			next(seg)
		}
	}

	constraints := media.Constraints{
		VideoDevice:   cfg.Video.Device,
		AudioInput:    cfg.Audio.Input,
		AudioFallback: cfg.Audio.Fallback,
	}
	sess := capture.NewSession(devices, constraints, handlers, logger, capture.WithSegmentLog(cfg.Debug.SegmentLog))
	return &owner{session: sess, forwarder: forwarder}, nil
}

// close drains queued uploads within the sink timeout plus a small pad.
func (o *owner) close(cfg config.UploadConfig, logger *slog.Logger) upload.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutMS)*time.Millisecond+forwarderDrainPad)
	defer cancel()
	if err := o.forwarder.Close(ctx); err != nil {
		logger.Warn("upload drain incomplete", "error", err.Error())
	}
	return o.forwarder.Stats()
}

func printSummary(w io.Writer, summary capture.Summary, sink string, stats upload.Stats) {
	fmt.Fprintf(w, "session %s: %s, %d segments, %s\n",
		summary.SessionID,
		capture.FormatTime(summary.Duration),
		summary.Segments,
		humanize.Bytes(uint64(max(summary.Bytes, 0))),
	)
	if sink != "" && sink != config.SinkNone {
		fmt.Fprintf(w, "upload %s: %d sent, %d failed, %d dropped\n", sink, stats.Sent, stats.Failed, stats.Dropped)
	}
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"state", result.State,
		"interrupted", result.Interrupted,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_s", result.Duration,
		"segments", result.Segments,
		"bytes", result.Bytes,
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session result", fields...)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Forward(ctx, socketPath, command, forwardTimeout)
	if errors.Is(err, ipc.ErrNoOwner) {
		return ipc.Response{}, false, nil
	}
	return resp, true, err
}

func waitTimeout(wait func(), timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
