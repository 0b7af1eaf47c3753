package agent

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

const (
	// MaxQueryBytes caps the user query for one turn.
	MaxQueryBytes = 2048

	// MaxScreenBytes caps the screen context snapshot for one turn.
	MaxScreenBytes = 32768
)

// injectionMarkers are matched case-insensitively against caller text.
// Environment text (screen dumps) carrying one of these is untrusted:
// an on-screen element could be trying to steer the model.
var injectionMarkers = []string{
	"ignore previous", "ignore all", "disregard", "forget everything",
	"new instructions", "system prompt", "you are now", "act as",
	"pretend to be", "jailbreak", "dan mode", "developer mode",
}

// SanitizeQuery cleans one user query: oversize and invalid UTF-8 are
// rejected rather than truncated, control characters other than newline
// and tab are stripped, space runs collapse to one space, and the
// result is trimmed.
func SanitizeQuery(input string) (string, error) {
	return sanitize(input, MaxQueryBytes)
}

// SanitizeScreenContext cleans an environment snapshot with the larger
// screen budget. Same rules as SanitizeQuery.
func SanitizeScreenContext(input string) (string, error) {
	return sanitize(input, MaxScreenBytes)
}

func sanitize(input string, limit int) (string, error) {
	if len(input) > limit {
		// Reject rather than truncate so callers always see exactly
		// what the model will see.
		return "", fmt.Errorf("%w: size=%d limit=%d", domain.ErrInputTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", domain.ErrInvalidUTF8
	}

	var b strings.Builder
	b.Grow(len(input))
	lastSpace := false
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if r == ' ' || r == '\t' {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.Trim(b.String(), " \n\t"), nil
}

// ContainsInjection reports whether text carries a prompt-injection
// marker. A flagged query rejects the turn; a flagged screen context is
// dropped and the turn proceeds without it.
func ContainsInjection(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
