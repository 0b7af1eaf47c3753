// Package extract recovers structured JSON values from free-form
// model completions.
//
// Four strategies run in a fixed priority order: direct parse of the
// whole text, fenced-block extraction, balanced-bracket scanning, and
// a lossy repair pass. The order is a behavioral contract: text that
// parses under an earlier strategy must never reach a later, lossier
// one.
package extract

import (
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

// Strategy names reported with successful results.
const (
	StrategyDirect   = "direct"
	StrategyMarkdown = "markdown"
	StrategyBalanced = "balanced"
	StrategyRepaired = "repaired"
)

// Attempt log entries reported by NotFound, in strategy order.
const (
	attemptDirect   = "direct_parse_failed"
	attemptMarkdown = "markdown_extraction_failed"
	attemptBalanced = "balanced_extraction_failed"
	attemptRepair   = "repair_failed"
)

// Result is the closed set of extraction outcomes: Object, Array or
// NotFound.
type Result interface {
	extractionResult()
}

// Object is a successfully recovered JSON object. Numbers are
// json.Number values.
type Object struct {
	Value    map[string]any
	Strategy string
}

// Array is a successfully recovered JSON array. Numbers are
// json.Number values.
type Array struct {
	Value    []any
	Strategy string
}

// NotFound reports that no strategy recovered a value. Attempts lists
// every failed strategy, in the order it was tried.
type NotFound struct {
	Attempts []string
}

func (Object) extractionResult()   {}
func (Array) extractionResult()    {}
func (NotFound) extractionResult() {}

// Extract tries each strategy in priority order and returns the first
// recovered value, or NotFound with the full attempt log.
func Extract(text string) Result {
	attempts := make([]string, 0, 4)

	if v, ok := direct(text); ok {
		return wrap(v, StrategyDirect)
	}
	attempts = append(attempts, attemptDirect)

	if v, ok := markdown(text); ok {
		return wrap(v, StrategyMarkdown)
	}
	attempts = append(attempts, attemptMarkdown)

	if v, ok := balanced(text); ok {
		return wrap(v, StrategyBalanced)
	}
	attempts = append(attempts, attemptBalanced)

	if v, ok := repair(text); ok {
		return wrap(v, StrategyRepaired)
	}
	attempts = append(attempts, attemptRepair)

	return NotFound{Attempts: attempts}
}

// wrap tags a parsed value with the strategy that produced it.
// parseValue only admits objects and arrays, so the switch is total.
func wrap(v any, strategy string) Result {
	switch value := v.(type) {
	case map[string]any:
		return Object{Value: value, Strategy: strategy}
	case []any:
		return Array{Value: value, Strategy: strategy}
	}
	return NotFound{Attempts: []string{strategy}}
}

// parseValue parses s as a single JSON document with nothing but
// whitespace around it, admitting only objects and arrays. Numbers
// decode as json.Number so integer payloads survive round-trips.
func parseValue(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}

	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// direct accepts only text that is, in its entirety, one object or
// array.
func direct(text string) (any, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return nil, false
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return nil, false
	}
	return parseValue(trimmed)
}

var (
	jsonFenceRe    = regexp.MustCompile("(?s)```json\\b[ \\t]*\\n?(.*?)```")
	genericFenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9]*[ \\t]*\\n?(.*?)```")
	inlineCodeRe   = regexp.MustCompile("`([^`\\n]+)`")
)

// markdown searches ```json fences, then generic fences, then inline
// single-backtick spans, and parses the first candidate whose content
// starts with an opening bracket.
func markdown(text string) (any, bool) {
	for _, re := range []*regexp.Regexp{jsonFenceRe, genericFenceRe, inlineCodeRe} {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			content := strings.TrimSpace(match[1])
			if len(content) == 0 || (content[0] != '{' && content[0] != '[') {
				continue
			}
			return parseValue(content)
		}
	}
	return nil, false
}

// balanced finds the earliest opening bracket and scans forward,
// tracking nesting depth. Characters inside double-quoted strings,
// including escaped quotes, are non-structural.
func balanced(text string) (any, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return parseValue(text[start : i+1])
			}
		}
	}
	return nil, false
}
