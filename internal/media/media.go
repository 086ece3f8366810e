// Package media defines capture device contracts and the ffmpeg-backed encoder.
package media

import (
	"context"
	"fmt"
)

// MimeType is the fixed container/codec pair produced by every stream.
const MimeType = "video/webm;codecs=vp9,opus"

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Constraints selects the camera and microphone for one acquisition.
// Both kinds are always requested.
type Constraints struct {
	VideoDevice   string
	AudioInput    string
	AudioFallback string
}

// Track is one acquired device. Stop releases it and is safe to call twice.
type Track interface {
	Kind() TrackKind
	Label() string
	Stop() error
}

// Stream is a live encoded capture of the acquired tracks.
type Stream interface {
	Tracks() []Track
	// Drain returns encoded bytes produced since the previous call and the
	// first encoder failure observed since then, if any.
	Drain() ([]byte, error)
}

// Devices acquires exclusive access to capture devices.
type Devices interface {
	Open(context.Context, Constraints) (Stream, error)
}

// DeviceAccessError reports a denied, missing, or unusable capture device.
type DeviceAccessError struct {
	Kind TrackKind
	Err  error
}

func (e *DeviceAccessError) Error() string {
	reason := "unknown error"
	if e.Err != nil {
		reason = e.Err.Error()
	}
	if e.Kind == "" {
		return "failed to access camera/microphone: " + reason
	}
	return fmt.Sprintf("failed to access camera/microphone: %s: %s", e.Kind, reason)
}

func (e *DeviceAccessError) Unwrap() error {
	return e.Err
}
