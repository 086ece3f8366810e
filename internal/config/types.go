// Package config resolves, parses, validates, and defaults reel configuration.
package config

// Upload sink names accepted by upload.sink.
const (
	SinkNone      = "none"
	SinkHTTP      = "http"
	SinkGRPC      = "grpc"
	SinkWebSocket = "websocket"
)

// Config is the fully materialized runtime configuration used by reel.
type Config struct {
	FFmpeg    CommandConfig
	Video     VideoConfig
	Audio     AudioConfig
	Upload    UploadConfig
	Indicator IndicatorConfig
	Debug     DebugConfig
}

// VideoConfig selects the camera: "default", a /dev/videoN path, or a name substring.
type VideoConfig struct {
	Device string
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// UploadConfig selects where segments are forwarded.
type UploadConfig struct {
	Sink       string
	Endpoint   string
	TimeoutMS  int
	QueueDepth int
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	SoundEnable    bool
	DesktopAppName string
	ErrorTimeoutMS int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

type DebugConfig struct {
	SegmentLog bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
