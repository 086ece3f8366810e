package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rbright/reel/internal/audio"
	"github.com/rbright/reel/internal/video"
)

const (
	stopGrace   = 3 * time.Second
	stderrLimit = 4096
)

// pcmSource is the microphone side of the encoder pipeline.
type pcmSource interface {
	Chunks() <-chan []byte
	Stop() error
	Device() audio.Device
	BytesCaptured() int64
}

// FFmpeg acquires a V4L2 camera plus a Pulse source and encodes both into
// one webm stream.
type FFmpeg struct {
	argv   []string
	logger *slog.Logger

	selectVideo func(string) (video.Device, error)
	probeVideo  func(string) error
	selectAudio func(context.Context, string, string) (audio.Selection, error)
	startAudio  func(context.Context, audio.Device) (pcmSource, error)
}

// NewFFmpeg returns a device source that runs argv (binary plus global flags)
// as the encoder.
func NewFFmpeg(argv []string, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FFmpeg{
		argv:        append([]string(nil), argv...),
		logger:      logger,
		selectVideo: video.Select,
		probeVideo:  video.Probe,
		selectAudio: audio.SelectDevice,
		startAudio: func(ctx context.Context, device audio.Device) (pcmSource, error) {
			return audio.StartCapture(ctx, device)
		},
	}
}

// Open acquires both devices and launches the encoder. Anything acquired
// before a failure is released again.
func (f *FFmpeg) Open(ctx context.Context, constraints Constraints) (Stream, error) {
	if len(f.argv) == 0 {
		return nil, &DeviceAccessError{Kind: TrackVideo, Err: errors.New("encoder command is empty")}
	}

	camera, err := f.selectVideo(constraints.VideoDevice)
	if err != nil {
		return nil, &DeviceAccessError{Kind: TrackVideo, Err: err}
	}
	if err := f.probeVideo(camera.Path); err != nil {
		return nil, &DeviceAccessError{Kind: TrackVideo, Err: err}
	}

	selection, err := f.selectAudio(ctx, constraints.AudioInput, constraints.AudioFallback)
	if err != nil {
		return nil, &DeviceAccessError{Kind: TrackAudio, Err: err}
	}
	if selection.Warning != "" {
		f.logger.Warn(selection.Warning)
	}

	pcm, err := f.startAudio(ctx, selection.Device)
	if err != nil {
		return nil, &DeviceAccessError{Kind: TrackAudio, Err: err}
	}

	args := append(append([]string(nil), f.argv[1:]...), encodeArgs(camera.Path)...)
	cmd := exec.Command(f.argv[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = pcm.Stop()
		return nil, &DeviceAccessError{Kind: TrackVideo, Err: fmt.Errorf("encoder stdin: %w", err)}
	}

	stream := &ffmpegStream{
		cmd:    cmd,
		pcm:    pcm,
		exited: make(chan struct{}),
		stderr: &tailBuffer{limit: stderrLimit},
		logger: f.logger,
	}
	cmd.Stdout = &stream.out
	cmd.Stderr = stream.stderr

	if err := cmd.Start(); err != nil {
		_ = pcm.Stop()
		return nil, &DeviceAccessError{Kind: TrackVideo, Err: fmt.Errorf("start encoder: %w", err)}
	}

	stream.tracks = []Track{
		&videoTrack{stream: stream, label: camera.Label()},
		&audioTrack{pcm: pcm, label: selection.Device.Label(), logger: f.logger},
	}

	go stream.pump(stdin)
	go stream.wait()

	f.logger.Info("encoder started",
		"pid", cmd.Process.Pid,
		"video_device", camera.Path,
		"audio_device", selection.Device.ID,
		"mime_type", MimeType,
	)
	return stream, nil
}

func encodeArgs(cameraPath string) []string {
	return []string{
		"-f", "v4l2", "-i", cameraPath,
		"-f", "s16le", "-ar", strconv.Itoa(audio.SampleRate), "-ac", strconv.Itoa(audio.Channels), "-i", "pipe:0",
		"-map", "0:v", "-map", "1:a",
		"-c:v", "libvpx-vp9", "-deadline", "realtime",
		"-c:a", "libopus",
		"-f", "webm", "pipe:1",
	}
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	pcm    pcmSource
	tracks []Track
	logger *slog.Logger

	out    lockedBuffer
	stderr *tailBuffer

	exited chan struct{}

	mu        sync.Mutex
	stopping  bool
	exitErr   error
	exitTaken bool
}

func (s *ffmpegStream) Tracks() []Track {
	return append([]Track(nil), s.tracks...)
}

// Drain returns encoded bytes since the previous call. An unexpected encoder
// exit is reported on exactly one call.
func (s *ffmpegStream) Drain() ([]byte, error) {
	data := s.out.take()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitErr != nil && !s.exitTaken {
		s.exitTaken = true
		return data, s.exitErr
	}
	return data, nil
}

// pump feeds microphone PCM to the encoder until the capture closes. After a
// write failure it keeps consuming so the capture never blocks.
func (s *ffmpegStream) pump(stdin io.WriteCloser) {
	defer stdin.Close()

	writable := true
	for chunk := range s.pcm.Chunks() {
		if !writable {
			continue
		}
		if _, err := stdin.Write(chunk); err != nil {
			writable = false
			s.logger.Debug("encoder stdin closed", "error", err)
		}
	}
}

func (s *ffmpegStream) wait() {
	err := s.cmd.Wait()

	s.mu.Lock()
	if !s.stopping {
		if err == nil {
			err = errors.New("exited unexpectedly")
		}
		if tail := s.stderr.String(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		s.exitErr = fmt.Errorf("encoder: %w", err)
	}
	s.mu.Unlock()

	close(s.exited)
}

// interrupt asks the encoder to finalize, killing it after the grace period,
// and returns once its output has been fully read.
func (s *ffmpegStream) interrupt() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.exited
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	select {
	case <-s.exited:
		return nil
	default:
	}

	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("encoder interrupt failed", "error", err)
	}

	select {
	case <-s.exited:
		return nil
	case <-time.After(stopGrace):
	}

	s.logger.Warn("encoder did not exit after interrupt; killing", "pid", s.cmd.Process.Pid)
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		<-s.exited
		return fmt.Errorf("kill encoder: %w", err)
	}
	<-s.exited
	return nil
}

type videoTrack struct {
	stream *ffmpegStream
	label  string
}

func (t *videoTrack) Kind() TrackKind { return TrackVideo }
func (t *videoTrack) Label() string   { return t.label }
func (t *videoTrack) Stop() error     { return t.stream.interrupt() }

type audioTrack struct {
	pcm    pcmSource
	label  string
	logger *slog.Logger
}

func (t *audioTrack) Kind() TrackKind { return TrackAudio }
func (t *audioTrack) Label() string   { return t.label }

func (t *audioTrack) Stop() error {
	err := t.pcm.Stop()
	t.logger.Debug("microphone capture closed", "device", t.pcm.Device().ID, "pcm_bytes", t.pcm.BytesCaptured())
	return err
}

// lockedBuffer collects encoder stdout between drains.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := bytes.Clone(b.buf.Bytes())
	b.buf.Reset()
	return out
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
