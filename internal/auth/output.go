package auth

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/al-bashkir/implicit-session/internal/session"
)

// WriteSummary prints s as one human-readable line, or as JSON.
func WriteSummary(w io.Writer, s session.Summary, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(s)
	}

	if !s.Authenticated {
		_, err := fmt.Fprintln(w, "not signed in")
		return err
	}
	_, err := fmt.Fprintf(w, "signed in as %s (subject %s)\n", s.Email, s.Subject)
	return err
}
