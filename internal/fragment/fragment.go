// Package fragment parses the URL fragment an identity provider appends to
// the redirect URI in the OAuth implicit flow.
package fragment

import (
	"strings"
	"unicode/utf8"
)

// Recognized fragment keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Tokens holds the token values found in a fragment.
// Each value is present or absent independently.
type Tokens struct {
	accessToken     string
	refreshToken    string
	hasAccessToken  bool
	hasRefreshToken bool
}

// AccessToken returns the access_token value and whether it was present.
func (t Tokens) AccessToken() (string, bool) {
	return t.accessToken, t.hasAccessToken
}

// RefreshToken returns the refresh_token value and whether it was present.
func (t Tokens) RefreshToken() (string, bool) {
	return t.refreshToken, t.hasRefreshToken
}

// Parse extracts access_token and refresh_token from a raw fragment as
// returned by the browser location API, leading '#' included.
//
// The first character is dropped unconditionally. Entries are separated by
// '&' and split on their first '='. The first entry without '=' ends
// parsing: it and every entry after it are ignored, even well-formed ones.
// Values are taken verbatim; a repeated key keeps its last value.
func Parse(raw string) Tokens {
	var t Tokens
	if raw == "" {
		return t
	}

	_, size := utf8.DecodeRuneInString(raw)
	for _, entry := range strings.Split(raw[size:], "&") {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			// a bare entry truncates the rest of the fragment
			break
		}

		switch key {
		case KeyAccessToken:
			t.accessToken, t.hasAccessToken = value, true
		case KeyRefreshToken:
			t.refreshToken, t.hasRefreshToken = value, true
		}
	}

	return t
}
