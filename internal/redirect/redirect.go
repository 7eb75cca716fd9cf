// Package redirect handles the identity provider's return to the redirect
// route: it derives a session from the URL fragment, publishes it, and
// persists it.
package redirect

import (
	"context"
	"log/slog"

	"github.com/al-bashkir/implicit-session/internal/claims"
	"github.com/al-bashkir/implicit-session/internal/logsanitize"
	"github.com/al-bashkir/implicit-session/internal/metrics"
	"github.com/al-bashkir/implicit-session/internal/session"
)

// HomePath is where the browser goes once the fragment has been handled.
const HomePath = "/"

// Persister writes a freshly derived session.
type Persister interface {
	Persist(ctx context.Context, s session.Session) error
}

// Result is the outcome of handling one redirect.
type Result struct {
	// Session is the derived session; valid only when Authenticated is true
	Session session.Session

	// Authenticated is false when the fragment did not yield a session
	Authenticated bool

	// Redirect is the path to navigate to next
	Redirect string
}

// Handler runs fragment parsing, claim extraction, and session building,
// then publishes the outcome to the shared State.
type Handler struct {
	extractor *claims.Extractor
	state     *session.State
	persister Persister
	metrics   *metrics.Metrics
}

// NewHandler creates a Handler. persister and m may be nil.
func NewHandler(extractor *claims.Extractor, state *session.State, persister Persister, m *metrics.Metrics) *Handler {
	if extractor == nil {
		extractor = claims.Default()
	}
	return &Handler{
		extractor: extractor,
		state:     state,
		persister: persister,
		metrics:   m,
	}
}

// Handle processes a raw fragment. A fragment that does not yield a
// session publishes "no session", the same as an unauthenticated visit.
// There is no retry and no error: the worst outcome is logged-out state.
func (h *Handler) Handle(ctx context.Context, rawFragment string) Result {
	sess, ok := session.Derive(rawFragment, h.extractor)
	h.metrics.Derivation(ok)

	if !ok {
		slog.Info("redirect did not yield a session", // #nosec G706 -- only lengths logged
			"fragment_len", len(rawFragment),
		)
		h.state.Set(nil)
		return Result{Redirect: HomePath}
	}

	slog.Info("session derived from redirect",
		"subject", logsanitize.Sanitize(sess.Subject),
		"email", logsanitize.Sanitize(sess.Email),
		"access_token", logsanitize.MaskToken(sess.AccessToken),
	)

	h.state.Set(&sess)

	if h.persister != nil {
		if err := h.persister.Persist(ctx, sess); err != nil {
			slog.Warn("failed to persist derived session, keeping it in memory only", "error", err)
		}
	}

	return Result{Session: sess, Authenticated: true, Redirect: HomePath}
}
