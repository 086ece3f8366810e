package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if len(cfg.FFmpeg.Argv) == 0 {
		return nil, fmt.Errorf("ffmpeg_cmd must not be empty")
	}
	if strings.TrimSpace(cfg.Video.Device) == "" {
		return nil, fmt.Errorf("video.device must not be empty (use \"default\")")
	}

	if err := validateUpload(cfg.Upload); err != nil {
		return nil, err
	}
	if cfg.Upload.Sink == SinkNone && cfg.Upload.Endpoint != "" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("upload.endpoint %q is ignored while upload.sink=none", cfg.Upload.Endpoint)})
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	return warnings, nil
}

func validateUpload(u UploadConfig) error {
	if u.TimeoutMS <= 0 {
		return fmt.Errorf("upload.timeout_ms must be > 0")
	}
	if u.QueueDepth <= 0 {
		return fmt.Errorf("upload.queue_depth must be > 0")
	}

	var schemes []string
	switch u.Sink {
	case SinkNone:
		return nil
	case SinkGRPC:
		if u.Endpoint == "" {
			return fmt.Errorf("upload.endpoint must not be empty when upload.sink=%s", u.Sink)
		}
		return nil
	case SinkHTTP:
		schemes = []string{"http", "https"}
	case SinkWebSocket:
		schemes = []string{"ws", "wss"}
	default:
		return fmt.Errorf("upload.sink must be one of: %s, %s, %s, %s", SinkNone, SinkHTTP, SinkGRPC, SinkWebSocket)
	}

	if u.Endpoint == "" {
		return fmt.Errorf("upload.endpoint must not be empty when upload.sink=%s", u.Sink)
	}
	parsed, err := url.Parse(u.Endpoint)
	if err != nil {
		return fmt.Errorf("upload.endpoint: %w", err)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("upload.endpoint %q must be a %s URL for upload.sink=%s", u.Endpoint, strings.Join(schemes, "/"), u.Sink)
}
