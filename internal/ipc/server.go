package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// requestReadTimeout bounds how long a connected client may take to send its request.
var requestReadTimeout = 2 * time.Second

// Handler answers one owner command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// ServeOption configures Serve.
type ServeOption func(*server)

// WithLogger logs every request and its outcome.
func WithLogger(logger *slog.Logger) ServeOption {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type server struct {
	handler Handler
	logger  *slog.Logger
}

// Serve answers clients on listener until ctx is cancelled or the listener
// closes. Each connection carries one request line and one response line.
func Serve(ctx context.Context, listener net.Listener, handler Handler, opts ...ServeOption) error {
	s := &server{handler: handler, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept ipc connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *server) serveConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		s.reject(conn, fmt.Sprintf("read request: %v", err))
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reject(conn, fmt.Sprintf("decode request: %v", err))
		return
	}

	started := time.Now()
	resp := s.handler.Handle(ctx, req)
	s.logger.Debug("ipc request",
		"command", req.Command,
		"ok", resp.OK,
		"state", resp.State,
		"session_id", resp.SessionID,
		"error", resp.Error,
		"handle_ms", time.Since(started).Milliseconds(),
	)
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *server) reject(conn net.Conn, reason string) {
	s.logger.Warn("ipc request rejected", "reason", reason)
	_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: reason})
}
