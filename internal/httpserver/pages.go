package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/al-bashkir/implicit-session/internal/session"
)

// indexData feeds templates/index.html
type indexData struct {
	Summary   session.Summary
	CanLogin  bool
	LoginPath string
}

// handleIndex shows who is logged in, or a login link
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", indexData{
		Summary:   session.Summarize(s.state.Current()),
		CanLogin:  s.login != nil,
		LoginPath: "/login",
	})
}

// handleLogin sends the browser to the identity provider
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.login == nil {
		s.renderError(w, http.StatusServiceUnavailable, "Login is not configured.")
		return
	}

	http.Redirect(w, r, s.login.LoginURL(), http.StatusFound)
}

// handleRedirectPage serves the page the identity provider returns to.
// The fragment never reaches the server on this request; the page script
// posts it to /redirect/fragment.
func (s *Server) handleRedirectPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, http.StatusOK, "redirect.html", nil)
}

// renderError renders the error page
func (s *Server) renderError(w http.ResponseWriter, status int, errMsg string) {
	s.render(w, status, "error.html", map[string]string{
		"Error": errMsg,
	})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		// Best-effort: headers/status are already written.
		slog.Error("failed to render template", "template", name, "error", err)
	}
}
