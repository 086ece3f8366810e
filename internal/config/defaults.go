package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	ffmpeg := "ffmpeg -hide_banner -loglevel error"

	return Config{
		FFmpeg: CommandConfig{Raw: ffmpeg, Argv: mustParseArgv(ffmpeg)},
		Video:  VideoConfig{Device: "default"},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Upload: UploadConfig{
			Sink:       SinkNone,
			TimeoutMS:  5000,
			QueueDepth: 64,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			SoundEnable:    true,
			DesktopAppName: "reel",
			ErrorTimeoutMS: 1600,
		},
	}
}
