package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/al-bashkir/implicit-session/internal/session"
)

// MaxFragmentBytes bounds the body of POST /redirect/fragment.
const MaxFragmentBytes = 16 << 10

// FragmentResponse is the JSON response for POST /redirect/fragment
type FragmentResponse struct {
	Authenticated bool   `json:"authenticated"`
	Redirect      string `json:"redirect"`
}

// handleFragment runs the redirect handler on the fragment posted by the
// redirect page. Only same-origin requests reach the handler, so another
// site cannot sign the user out or plant its own tokens.
func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	if !requireSameOrigin(w, r) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFragmentBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Fragment too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	result := s.redirects.Handle(r.Context(), string(body))

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, FragmentResponse{
		Authenticated: result.Authenticated,
		Redirect:      result.Redirect,
	})
}

// handleSession reports the current session without its tokens
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, session.Summarize(s.state.Current()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort: headers/status may already be written.
		slog.Error("failed to encode JSON response", "error", err)
	}
}
