package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/al-bashkir/implicit-session/internal/logsanitize"
)

// requireSameOrigin rejects requests that cannot prove they come from a
// page served by this server. Sec-Fetch-Site is checked first, then Origin,
// then Referer. A request carrying none of them is rejected.
func requireSameOrigin(w http.ResponseWriter, r *http.Request) bool {
	if site := r.Header.Get("Sec-Fetch-Site"); site != "" {
		if site == "same-origin" {
			return true
		}
		return denyCrossOrigin(w, r, "sec-fetch-site", site)
	}
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
		if sameOrigin(origin, r) {
			return true
		}
		return denyCrossOrigin(w, r, "origin", origin)
	}
	if referer := strings.TrimSpace(r.Referer()); referer != "" {
		if sameOrigin(referer, r) {
			return true
		}
		return denyCrossOrigin(w, r, "referer", referer)
	}
	return denyCrossOrigin(w, r, "none", "")
}

func denyCrossOrigin(w http.ResponseWriter, r *http.Request, proof, value string) bool {
	slog.Warn("cross-origin request rejected", // #nosec G706 -- values sanitized via logsanitize
		"request_id", RequestIDFromContext(r.Context()),
		"path", logsanitize.Sanitize(r.URL.Path),
		"proof", proof,
		"value", logsanitize.Sanitize(value),
	)
	http.Error(w, "Cross-origin request rejected", http.StatusForbidden)
	return false
}

func sameOrigin(rawURL string, r *http.Request) bool {
	if rawURL == "null" {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host) && strings.EqualFold(parsed.Scheme, requestScheme(r))
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
