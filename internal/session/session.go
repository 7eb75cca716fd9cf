// Package session builds, shares, and persists the authenticated session
// obtained from an implicit-flow redirect.
package session

import (
	"github.com/al-bashkir/implicit-session/internal/claims"
	"github.com/al-bashkir/implicit-session/internal/fragment"
)

// Session is the token and identity bundle of the logged-in user.
// A Session value only exists with all four fields set; it is replaced
// wholesale, never updated field by field.
type Session struct {
	// AccessToken is the opaque bearer token for API calls
	AccessToken string `json:"access_token"`

	// Subject is the stable user identifier from the "sub" claim.
	// Persisted as "uuid".
	Subject string `json:"uuid"`

	// RefreshToken is the opaque refresh token
	RefreshToken string `json:"refresh_token"`

	// Email is the user's email claim
	Email string `json:"email"`
}

// Valid reports whether every field is non-empty.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.RefreshToken != "" && s.Subject != "" && s.Email != ""
}

// Build assembles a Session from the fragment tokens and the identity read
// from the access token. It returns false unless all four values are set.
func Build(accessToken, refreshToken string, id claims.Identity) (Session, bool) {
	s := Session{
		AccessToken:  accessToken,
		Subject:      id.Subject,
		RefreshToken: refreshToken,
		Email:        id.Email,
	}
	if !s.Valid() {
		return Session{}, false
	}
	return s, true
}

// Derive turns a raw redirect fragment into a Session.
// Parse and decode failures are not reported; they all mean "no session".
func Derive(raw string, ex *claims.Extractor) (Session, bool) {
	tokens := fragment.Parse(raw)

	accessToken, ok := tokens.AccessToken()
	if !ok {
		return Session{}, false
	}
	refreshToken, ok := tokens.RefreshToken()
	if !ok {
		return Session{}, false
	}

	id, ok := ex.Extract(accessToken)
	if !ok {
		return Session{}, false
	}

	return Build(accessToken, refreshToken, id)
}

// Summary is the externally visible view of the current session.
// It never carries tokens.
type Summary struct {
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
	Email         string `json:"email,omitempty"`
}

// Summarize returns the Summary for a session value as returned by
// State.Current.
func Summarize(s Session, ok bool) Summary {
	if !ok {
		return Summary{}
	}
	return Summary{Authenticated: true, Subject: s.Subject, Email: s.Email}
}
