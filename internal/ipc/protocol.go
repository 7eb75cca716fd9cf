package ipc

import (
	"errors"

	"github.com/al-bashkir/implicit-session/internal/session"
)

// MessageType represents the type of IPC message
type MessageType string

const (
	// MessageTypeStatusRequest asks the daemon for the current session
	MessageTypeStatusRequest MessageType = "status_request"
	// MessageTypeFragmentRequest hands the daemon a redirect fragment
	MessageTypeFragmentRequest MessageType = "fragment_request"
	// MessageTypeSessionResponse is sent from the daemon to the CLI
	MessageTypeSessionResponse MessageType = "session_response"
)

// MaxRequestBytes bounds a single encoded request.
const MaxRequestBytes = 32 << 10

// Request is sent from the CLI to the daemon. Fragment is only set for
// fragment requests and carries the raw fragment, leading '#' included.
type Request struct {
	Type     MessageType `json:"type"`
	Fragment string      `json:"fragment,omitempty"`
}

var errInvalidType = errors.New("invalid request type")

func (r *Request) validate() error {
	switch r.Type {
	case MessageTypeStatusRequest, MessageTypeFragmentRequest:
		return nil
	default:
		return errInvalidType
	}
}

// SessionResponse is sent from the daemon back to the CLI.
// It carries the session summary, never tokens.
type SessionResponse struct {
	Type          MessageType `json:"type"`
	Status        string      `json:"status"` // "ok" or "error"
	Authenticated bool        `json:"authenticated"`
	Subject       string      `json:"subject,omitempty"`
	Email         string      `json:"email,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// ResponseStatus constants
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// NewSessionResponse wraps a session summary in a successful response.
func NewSessionResponse(s session.Summary) *SessionResponse {
	return &SessionResponse{
		Status:        StatusOK,
		Authenticated: s.Authenticated,
		Subject:       s.Subject,
		Email:         s.Email,
	}
}

// Summary returns the session summary carried by the response.
func (r *SessionResponse) Summary() session.Summary {
	return session.Summary{
		Authenticated: r.Authenticated,
		Subject:       r.Subject,
		Email:         r.Email,
	}
}
