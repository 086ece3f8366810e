package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

type jsoncConfig struct {
	FFmpegCmd *string         `json:"ffmpeg_cmd"`
	Video     *jsoncVideo     `json:"video"`
	Audio     *jsoncAudio     `json:"audio"`
	Upload    *jsoncUpload    `json:"upload"`
	Indicator *jsoncIndicator `json:"indicator"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncVideo struct {
	Device *string `json:"device"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncUpload struct {
	Sink       *string `json:"sink"`
	Endpoint   *string `json:"endpoint"`
	TimeoutMS  *int    `json:"timeout_ms"`
	QueueDepth *int    `json:"queue_depth"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	SoundEnable    *bool   `json:"sound_enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncDebug struct {
	SegmentLog *bool `json:"segment_log"`
}

// parseJSONC decodes already-normalized JSONC over base and validates the result.
func parseJSONC(normalized string, base Config) (Config, []Warning, error) {
	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if payload.FFmpegCmd != nil {
		raw := *payload.FFmpegCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return fmt.Errorf("invalid ffmpeg_cmd: %w", err)
		}
		cfg.FFmpeg = CommandConfig{Raw: raw, Argv: argv}
	}

	if payload.Video != nil && payload.Video.Device != nil {
		cfg.Video.Device = strings.TrimSpace(*payload.Video.Device)
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
	}

	if u := payload.Upload; u != nil {
		if u.Sink != nil {
			cfg.Upload.Sink = strings.ToLower(strings.TrimSpace(*u.Sink))
		}
		if u.Endpoint != nil {
			cfg.Upload.Endpoint = strings.TrimSpace(*u.Endpoint)
		}
		if u.TimeoutMS != nil {
			cfg.Upload.TimeoutMS = *u.TimeoutMS
		}
		if u.QueueDepth != nil {
			cfg.Upload.QueueDepth = *u.QueueDepth
		}
	}

	if ind := payload.Indicator; ind != nil {
		if ind.Enable != nil {
			cfg.Indicator.Enable = *ind.Enable
		}
		if ind.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *ind.SoundEnable
		}
		if ind.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*ind.DesktopAppName)
		}
		if ind.ErrorTimeoutMS != nil {
			cfg.Indicator.ErrorTimeoutMS = *ind.ErrorTimeoutMS
		}
	}

	if payload.Debug != nil && payload.Debug.SegmentLog != nil {
		cfg.Debug.SegmentLog = *payload.Debug.SegmentLog
	}

	return nil
}
