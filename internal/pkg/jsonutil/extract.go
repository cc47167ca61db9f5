// Package jsonutil digs the JSON answer out of free-form model output.
package jsonutil

import (
	"regexp"
	"strings"
)

const fence = "```"

// FirstObject returns the first balanced {...} in raw. Objects inside
// fenced code blocks are preferred over ones in the surrounding prose.
func FirstObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, block := range fencedBlocks(raw) {
		if obj, ok := balanced(block); ok {
			return obj, true
		}
	}
	return balanced(raw)
}

// fencedBlocks lists the bodies of complete ``` blocks, language tag
// lines removed.
func fencedBlocks(raw string) []string {
	var out []string
	for {
		_, after, ok := strings.Cut(raw, fence)
		if !ok {
			return out
		}
		body, rest, ok := strings.Cut(after, fence)
		if !ok {
			return out
		}
		if tag, tail, hasNL := strings.Cut(body, "\n"); hasNL && !strings.Contains(tag, "{") {
			body = tail
		}
		out = append(out, body)
		raw = rest
	}
}

// balanced matches braces from the first '{', skipping quoted text in
// either quote style.
func balanced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	var (
		depth   int
		quote   byte
		escaped bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	unquotedKey   = regexp.MustCompile(`([{,]\s*)([A-Za-z_]\w*)\s*:`)
	danglingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// Repair fixes near-JSON: single quotes, bare keys, trailing commas.
// Valid JSON comes back unchanged.
func Repair(raw string) string {
	out := strings.ReplaceAll(raw, "'", `"`)
	out = unquotedKey.ReplaceAllString(out, `$1"$2":`)
	return danglingComma.ReplaceAllString(out, "$1")
}
