// Package ipc carries newline-delimited JSON commands between reel processes
// over a per-user unix socket.
package ipc

import "errors"

// Commands understood by a recording owner.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandToggle = "toggle"
)

type Request struct {
	Command string `json:"command"`
}

// Response is one owner reply. Elapsed is HH:MM:SS while a session is active.
type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Elapsed   string `json:"elapsed,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Err returns the owner's refusal as an error, or nil when OK.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errors.New("owner refused request")
	}
	return errors.New(r.Error)
}
