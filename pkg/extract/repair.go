package extract

import (
	"regexp"
	"strings"
)

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// repair takes the span from the first opening bracket to the last
// matching closer of the same kind, rewrites common model mistakes,
// and reparses. The rewrites are lossy on pathological inputs, which
// is why repair runs last.
func repair(text string) (any, bool) {
	span, ok := bracketSpan(text)
	if !ok {
		return nil, false
	}
	return parseValue(repairText(span))
}

func bracketSpan(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// repairText applies, in order: trailing-comma removal, single-to-
// double quote replacement (only when the text has no double quotes),
// and quoting of bare identifier keys. Each rewrite is idempotent.
func repairText(s string) string {
	repaired := trailingCommaRe.ReplaceAllString(s, "$1")
	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, "'") {
		repaired = strings.ReplaceAll(repaired, "'", `"`)
	}
	repaired = bareKeyRe.ReplaceAllString(repaired, `$1"$2":`)
	return repaired
}
