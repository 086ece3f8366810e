package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/reel/internal/capture"
)

// StartFrame announces a new session before its first binary segment frame.
type StartFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MimeType  string `json:"mime_type"`
}

// WebSocketSink streams segments as binary frames over a lazily dialed connection.
type WebSocketSink struct {
	endpoint string
	dialer   websocket.Dialer
	logger   *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	announced string
}

func NewWebSocketSink(endpoint string, timeout time.Duration, logger *slog.Logger) *WebSocketSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WebSocketSink{
		endpoint: endpoint,
		dialer:   websocket.Dialer{HandshakeTimeout: timeout},
		logger:   logger,
	}
}

func (s *WebSocketSink) Send(ctx context.Context, seg capture.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.endpoint, err)
		}
		s.conn = conn
		s.announced = ""
		s.logger.Debug("websocket sink connected", "endpoint", s.endpoint)
		go s.readLoop(conn)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}

	if s.announced != seg.SessionID {
		frame := StartFrame{Type: "start", SessionID: seg.SessionID, MimeType: seg.MimeType}
		if err := s.conn.WriteJSON(frame); err != nil {
			s.dropLocked()
			return fmt.Errorf("write start frame: %w", err)
		}
		s.announced = seg.SessionID
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, seg.Data); err != nil {
		s.dropLocked()
		return fmt.Errorf("write segment %d: %w", seg.Sequence, err)
	}
	return nil
}

// Probe dials and immediately closes a connection.
func (s *WebSocketSink) Probe(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}
	return conn.Close()
}

func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	writeErr := s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	closeErr := s.conn.Close()
	s.conn = nil
	s.announced = ""
	if errors.Is(writeErr, websocket.ErrCloseSent) {
		writeErr = nil
	}
	return errors.Join(writeErr, closeErr)
}

// readLoop discards inbound messages so control frames are handled. When the
// peer goes away the connection is dropped and the next Send redials.
func (s *WebSocketSink) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.logger.Debug("websocket sink disconnected", "endpoint", s.endpoint, "error", err)
				s.dropLocked()
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *WebSocketSink) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *WebSocketSink) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.announced = ""
}
