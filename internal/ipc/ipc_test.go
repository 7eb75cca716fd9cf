package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/al-bashkir/implicit-session/internal/session"
)

func startServer(t *testing.T, handler RequestHandler) (*Server, string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "test.sock")
	server := NewServer(socketPath, handler)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("server.Stop failed: %v", err)
		}
	})

	return server, socketPath
}

func TestClientServerCommunication(t *testing.T) {
	fragments := make(chan string, 1)
	handler := func(ctx context.Context, req *Request) (*SessionResponse, error) {
		switch req.Type {
		case MessageTypeStatusRequest:
			return NewSessionResponse(session.Summary{}), nil
		case MessageTypeFragmentRequest:
			fragments <- req.Fragment
			return NewSessionResponse(session.Summary{
				Authenticated: true,
				Subject:       "u-123",
				Email:         "a@b.com",
			}), nil
		}
		return nil, errors.New("unexpected request")
	}

	_, socketPath := startServer(t, handler)
	client := NewClient(socketPath)
	ctx := context.Background()

	t.Run("status", func(t *testing.T) {
		resp, err := client.Status(ctx)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}

		if resp.Type != MessageTypeSessionResponse {
			t.Errorf("expected type %s, got %s", MessageTypeSessionResponse, resp.Type)
		}
		if resp.Status != StatusOK {
			t.Errorf("expected status %s, got %s", StatusOK, resp.Status)
		}
		if resp.Authenticated {
			t.Error("expected no session")
		}
	})

	t.Run("fragment", func(t *testing.T) {
		resp, err := client.SubmitFragment(ctx, "#access_token=a.b.c&refresh_token=r")
		if err != nil {
			t.Fatalf("SubmitFragment failed: %v", err)
		}

		if got := <-fragments; got != "#access_token=a.b.c&refresh_token=r" {
			t.Errorf("daemon received fragment %q", got)
		}

		want := session.Summary{Authenticated: true, Subject: "u-123", Email: "a@b.com"}
		if got := resp.Summary(); got != want {
			t.Errorf("Summary() = %+v, want %+v", got, want)
		}
	})
}

func TestServerHandlerError(t *testing.T) {
	handler := func(ctx context.Context, req *Request) (*SessionResponse, error) {
		return nil, errors.New("daemon not initialized")
	}

	_, socketPath := startServer(t, handler)

	resp, err := NewClient(socketPath).Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if resp.Status != StatusError {
		t.Errorf("expected status error, got %s", resp.Status)
	}
	if resp.Error != "daemon not initialized" {
		t.Errorf("expected handler error message, got %q", resp.Error)
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	var called atomic.Bool
	handler := func(ctx context.Context, req *Request) (*SessionResponse, error) {
		called.Store(true)
		return NewSessionResponse(session.Summary{}), nil
	}

	_, socketPath := startServer(t, handler)

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "not json",
			payload: "hello\n",
			wantErr: "invalid request format",
		},
		{
			name:    "unknown type",
			payload: `{"type":"auth_request"}` + "\n",
			wantErr: "invalid request type",
		},
		{
			name:    "oversized request",
			payload: `{"type":"fragment_request","fragment":"` + strings.Repeat("a", MaxRequestBytes) + `"}` + "\n",
			wantErr: "invalid request format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.Dial("unix", socketPath)
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = conn.Close() }()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			if _, err := conn.Write([]byte(tt.payload)); err != nil {
				t.Fatal(err)
			}

			var resp SessionResponse
			if err := json.NewDecoder(conn).Decode(&resp); err != nil {
				t.Fatalf("failed to read response: %v", err)
			}

			if resp.Type != MessageTypeSessionResponse || resp.Status != StatusError {
				t.Errorf("unexpected response %+v", resp)
			}
			if resp.Error != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, resp.Error)
			}
		})
	}

	if called.Load() {
		t.Error("handler must not run for rejected requests")
	}
}

func TestClientConnectionFailure(t *testing.T) {
	// Try to connect to non-existent socket
	client := NewClient("/nonexistent/path/test.sock")

	_, err := client.Status(context.Background())
	if err == nil {
		t.Error("expected error when connecting to non-existent socket")
	}
}

func TestServerSocketPermissions(t *testing.T) {
	handler := func(ctx context.Context, req *Request) (*SessionResponse, error) {
		return NewSessionResponse(session.Summary{}), nil
	}

	_, socketPath := startServer(t, handler)

	// Check socket permissions
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("failed to stat socket: %v", err)
	}

	mode := info.Mode()
	expectedMode := os.FileMode(0600) | os.ModeSocket

	if mode != expectedMode {
		t.Errorf("expected socket mode %v, got %v", expectedMode, mode)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	socketPath := filepath.Join(t.TempDir(), "test.sock")

	// Handler that takes a bit of time
	handler := func(ctx context.Context, req *Request) (*SessionResponse, error) {
		time.Sleep(200 * time.Millisecond)
		return NewSessionResponse(session.Summary{}), nil
	}

	server := NewServer(socketPath, handler)

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	// Start a request in background
	done := make(chan error, 1)
	go func() {
		_, err := NewClient(socketPath).Status(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)

	// Stop server - should wait for request to complete
	if err := server.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	if err := <-done; err != nil {
		t.Errorf("in-flight request failed: %v", err)
	}

	// Socket should be removed
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed after stop")
	}

	// Stop is idempotent
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestMultipleConcurrentRequests(t *testing.T) {
	// Handler that echoes the fragment back as the subject
	handler := func(ctx context.Context, req *Request) (*SessionResponse, error) {
		return NewSessionResponse(session.Summary{
			Authenticated: true,
			Subject:       req.Fragment,
		}), nil
	}

	_, socketPath := startServer(t, handler)

	// Send multiple concurrent requests
	numRequests := 10
	results := make(chan *SessionResponse, numRequests)
	errs := make(chan error, numRequests)

	for i := 0; i < numRequests; i++ {
		go func(n int) {
			resp, err := NewClient(socketPath).SubmitFragment(context.Background(), string(rune('A'+n)))
			if err != nil {
				errs <- err
				return
			}
			results <- resp
		}(i)
	}

	// Collect results
	seen := make(map[string]bool)
	for i := 0; i < numRequests; i++ {
		select {
		case err := <-errs:
			t.Errorf("request failed: %v", err)
		case resp := <-results:
			if resp.Status != StatusOK {
				t.Errorf("expected status ok, got %s", resp.Status)
			}
			seen[resp.Subject] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for responses")
		}
	}

	if len(seen) != numRequests {
		t.Errorf("expected %d distinct responses, got %d", numRequests, len(seen))
	}
}

func TestClientTimeout(t *testing.T) {
	// Handler that sleeps longer than client timeout
	handler := func(ctx context.Context, req *Request) (*SessionResponse, error) {
		time.Sleep(2 * time.Second)
		return NewSessionResponse(session.Summary{}), nil
	}

	_, socketPath := startServer(t, handler)

	client := NewClient(socketPath)
	client.SetTimeout(500 * time.Millisecond)

	_, err := client.Status(context.Background())
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestServerRefusesLiveSocket(t *testing.T) {
	_, socketPath := startServer(t, func(ctx context.Context, req *Request) (*SessionResponse, error) {
		return NewSessionResponse(session.Summary{}), nil
	})

	second := NewServer(socketPath, nil)
	err := second.Start(context.Background())
	if !errors.Is(err, ErrSocketInUse) {
		t.Fatalf("expected ErrSocketInUse, got %v", err)
	}

	// the first server must still answer
	if _, err := NewClient(socketPath).Status(context.Background()); err != nil {
		t.Errorf("first server stopped answering: %v", err)
	}
}

func TestServerReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "test.sock")

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	l.SetUnlinkOnClose(false)
	_ = l.Close()

	if _, err := os.Stat(socketPath); err != nil {
		t.Fatalf("expected leftover socket file: %v", err)
	}

	server := NewServer(socketPath, func(ctx context.Context, req *Request) (*SessionResponse, error) {
		return NewSessionResponse(session.Summary{Authenticated: true, Subject: "u"}), nil
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start over stale socket: %v", err)
	}
	defer func() { _ = server.Stop() }()

	resp, err := NewClient(socketPath).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Subject != "u" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestClientRejectsUnexpectedResponse(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _ = readRequest(conn)
		_, _ = conn.Write([]byte(`{"type":"auth_response","status":"ok"}` + "\n"))
	}()

	_, err = NewClient(socketPath).Status(context.Background())
	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}
