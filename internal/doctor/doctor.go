// Package doctor runs readiness diagnostics for config, ffmpeg, capture
// devices, and the upload sink.
package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/reel/internal/audio"
	"github.com/rbright/reel/internal/config"
	"github.com/rbright/reel/internal/upload"
	"github.com/rbright/reel/internal/video"
)

const (
	encoderListTimeout = 3 * time.Second
	sinkProbeTimeout   = 2 * time.Second
)

var requiredEncoders = []string{"libvpx-vp9", "libopus"}

// Device lookups are swapped in tests.
var (
	selectVideo = video.Select
	probeVideo  = video.Probe
	selectAudio = audio.SelectDevice
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment, device, and sink checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	ffmpeg := checkCommand(cfg.FFmpeg.Argv, "ffmpeg_cmd")
	checks = append(checks, ffmpeg)
	if ffmpeg.Pass {
		checks = append(checks, checkEncoders(ctx, cfg.FFmpeg.Argv[0]))
	}

	checks = append(checks,
		checkVideoDevice(cfg.Video.Device),
		checkAudioSelection(ctx, cfg.Audio),
		checkUploadSink(ctx, cfg.Upload),
	)

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 && loaded.Exists {
		message = fmt.Sprintf("%s with %d warning(s)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkEncoders asks ffmpeg for its encoder table and requires vp9 + opus.
func checkEncoders(ctx context.Context, bin string) Check {
	ctx, cancel := context.WithTimeout(ctx, encoderListTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-encoders").Output()
	if err != nil {
		return Check{Name: "ffmpeg.encoders", Pass: false, Message: fmt.Sprintf("list encoders: %v", err)}
	}

	listed := string(out)
	var missing []string
	for _, name := range requiredEncoders {
		if !strings.Contains(listed, " "+name+" ") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Check{Name: "ffmpeg.encoders", Pass: false, Message: "missing " + strings.Join(missing, ", ")}
	}
	return Check{Name: "ffmpeg.encoders", Pass: true, Message: strings.Join(requiredEncoders, ", ")}
}

// checkVideoDevice resolves the configured camera and opens it once.
func checkVideoDevice(preferred string) Check {
	device, err := selectVideo(preferred)
	if err != nil {
		return Check{Name: "video.device", Pass: false, Message: err.Error()}
	}
	if err := probeVideo(device.Path); err != nil {
		return Check{Name: "video.device", Pass: false, Message: err.Error()}
	}
	return Check{Name: "video.device", Pass: true, Message: fmt.Sprintf("selected %s", device.Label())}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.AudioConfig) Check {
	selection, err := selectAudio(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkUploadSink builds the configured sink and probes it when supported.
func checkUploadSink(ctx context.Context, cfg config.UploadConfig) Check {
	name := "upload." + cfg.Sink
	if cfg.Sink == "" || cfg.Sink == config.SinkNone {
		return Check{Name: "upload.none", Pass: true, Message: "segments are not forwarded"}
	}

	sink, err := upload.New(cfg, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer sink.Close()

	prober, ok := sink.(upload.Prober)
	if !ok {
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("configured for %s (not probed)", cfg.Endpoint)}
	}

	ctx, cancel := context.WithTimeout(ctx, sinkProbeTimeout)
	defer cancel()
	if err := prober.Probe(ctx); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.Endpoint)}
}
