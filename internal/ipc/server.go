package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/al-bashkir/implicit-session/internal/logsanitize"
)

// DefaultConnTimeout bounds how long a single control connection may stay open.
const DefaultConnTimeout = 10 * time.Second

// ErrSocketInUse is returned by Start when another process is already
// answering on the socket path.
var ErrSocketInUse = errors.New("control socket is in use by another process")

// RequestHandler answers one validated control request.
type RequestHandler func(ctx context.Context, req *Request) (*SessionResponse, error)

// Server accepts control connections on a Unix socket. Each connection
// carries exactly one request line and one response line.
type Server struct {
	socketPath  string
	handler     RequestHandler
	connTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
	stopOnce sync.Once
}

func NewServer(socketPath string, handler RequestHandler) *Server {
	return &Server{
		socketPath:  socketPath,
		handler:     handler,
		connTimeout: DefaultConnTimeout,
	}
}

// Start listens on the socket path and serves connections in the
// background until Stop. A leftover socket file from a dead daemon is
// replaced; a live one is not.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := s.removeStaleSocket(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}

	// owner only: a fragment request can replace the signed-in user
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("IPC server started", "socket", s.socketPath)

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		s.serve(ctx, listener)
	}()

	return nil
}

func (s *Server) removeStaleSocket() error {
	if _, err := os.Lstat(s.socketPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if conn, err := net.DialTimeout("unix", s.socketPath, time.Second); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, s.socketPath)
	}

	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	slog.Debug("removed stale socket", "socket", s.socketPath)
	return nil
}

func (s *Server) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			slog.Error("failed to accept connection", "error", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(s.connTimeout)); err != nil {
		slog.Error("failed to set connection deadline", "error", err)
		return
	}

	req, err := readRequest(conn)
	if err != nil {
		slog.Error("failed to decode request", "error", err)
		writeResponse(conn, errorResponse("invalid request format"))
		return
	}

	if err := req.validate(); err != nil {
		slog.Error("invalid request type", "type", logsanitize.Sanitize(string(req.Type)))
		writeResponse(conn, errorResponse(err.Error()))
		return
	}

	slog.Debug("control request received", // #nosec G706 -- only lengths logged
		"type", req.Type,
		"fragment_len", len(req.Fragment),
	)

	resp, err := s.handler(ctx, req)
	if err != nil {
		slog.Error("control request failed", "type", req.Type, "error", err)
		writeResponse(conn, errorResponse(err.Error()))
		return
	}

	resp.Type = MessageTypeSessionResponse
	if writeResponse(conn, resp) {
		slog.Debug("control response sent",
			"status", resp.Status,
			"authenticated", resp.Authenticated,
			"subject", logsanitize.Sanitize(resp.Subject),
		)
	}
}

// readRequest reads a single request line of at most MaxRequestBytes.
func readRequest(r io.Reader) (*Request, error) {
	line, err := bufio.NewReader(io.LimitReader(r, MaxRequestBytes)).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func errorResponse(msg string) *SessionResponse {
	return &SessionResponse{
		Type:   MessageTypeSessionResponse,
		Status: StatusError,
		Error:  msg,
	}
}

func writeResponse(w io.Writer, resp *SessionResponse) bool {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to send response", "status", resp.Status, "error", err)
		return false
	}
	return true
}

// Stop closes the listener, waits for in-flight requests and removes the
// socket file. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		slog.Info("stopping IPC server")

		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()

		if listener != nil {
			if err := listener.Close(); err != nil {
				slog.Warn("failed to close listener", "error", err)
			}
		}
		s.conns.Wait()

		if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove socket file", "error", err)
		}

		slog.Info("IPC server stopped")
	})
	return nil
}
