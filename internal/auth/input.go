// Package auth implements the CLI side of the control channel: it turns
// pasted redirect URLs into fragments, talks to the daemon, and maps the
// outcome to an exit code.
package auth

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyInput is returned when nothing was pasted.
	ErrEmptyInput = errors.New("empty input")
	// ErrNoFragment is returned for a URL without a '#' fragment.
	ErrNoFragment = errors.New("URL has no fragment; paste the full address the identity provider redirected to")
)

// ExtractFragment normalizes user input into a raw fragment with its
// leading '#'. The input may be a full redirect URL, a fragment starting
// with '#', or the bare "key=value&..." part.
//
// Surrounding whitespace is ignored. Nothing is unescaped.
func ExtractFragment(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	if i := strings.IndexByte(input, '#'); i >= 0 {
		return input[i:], nil
	}

	if strings.Contains(input, "://") {
		return "", ErrNoFragment
	}

	// Bare pairs: the parser drops the first character, so supply the '#'.
	return "#" + input, nil
}
