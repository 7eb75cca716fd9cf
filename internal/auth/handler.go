package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/al-bashkir/implicit-session/internal/ipc"
)

// Exit codes for the control commands
const (
	ExitSuccess   = 0 // A session is held
	ExitFailure   = 1 // Input, transport, or daemon error
	ExitNoSession = 4 // The daemon answered, but nobody is signed in
)

// Handler runs control commands against the daemon
type Handler struct {
	socketPath string
	jsonOutput bool
	stdout     io.Writer
	stderr     io.Writer
}

// NewHandler creates a new control handler
func NewHandler(socketPath string) *Handler {
	return &Handler{
		socketPath: socketPath,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

// SetJSON switches the summary output to JSON
func (h *Handler) SetJSON(enabled bool) {
	h.jsonOutput = enabled
}

// SetOutput redirects summary and error output
func (h *Handler) SetOutput(stdout, stderr io.Writer) {
	h.stdout = stdout
	h.stderr = stderr
}

// Status prints the daemon's current session and returns the exit code
func (h *Handler) Status(ctx context.Context) int {
	resp, err := ipc.NewClient(h.socketPath).Status(ctx)
	if err != nil {
		return h.daemonUnreachable(err)
	}
	return h.report(resp)
}

// Submit hands a pasted redirect URL or fragment to the daemon and prints
// the resulting session
func (h *Handler) Submit(ctx context.Context, input string) int {
	fragment, err := ExtractFragment(input)
	if err != nil {
		slog.Error("invalid redirect input", "error", err)
		_, _ = fmt.Fprintf(h.stderr, "Error: %v\n", err)
		return ExitFailure
	}

	slog.Debug("submitting fragment", "fragment_len", len(fragment))

	resp, err := ipc.NewClient(h.socketPath).SubmitFragment(ctx, fragment)
	if err != nil {
		return h.daemonUnreachable(err)
	}
	return h.report(resp)
}

func (h *Handler) daemonUnreachable(err error) int {
	slog.Error("failed to communicate with daemon", "error", err)
	_, _ = fmt.Fprintf(h.stderr, "Error: daemon communication failed: %v\n", err)
	_, _ = fmt.Fprintf(h.stderr, "Is the daemon running? Start it with: implicit-session serve\n")
	return ExitFailure
}

// report prints resp and maps it to an exit code
func (h *Handler) report(resp *ipc.SessionResponse) int {
	if resp.Status == ipc.StatusError {
		slog.Error("daemon returned error", "error", resp.Error)
		_, _ = fmt.Fprintf(h.stderr, "Error: %s\n", resp.Error)
		return ExitFailure
	}

	if resp.Status != ipc.StatusOK {
		slog.Error("unknown response status", "status", resp.Status)
		_, _ = fmt.Fprintf(h.stderr, "Error: unexpected response from daemon\n")
		return ExitFailure
	}

	if err := WriteSummary(h.stdout, resp.Summary(), h.jsonOutput); err != nil {
		slog.Error("failed to write summary", "error", err)
		return ExitFailure
	}

	if !resp.Authenticated {
		return ExitNoSession
	}
	return ExitSuccess
}
