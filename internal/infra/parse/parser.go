package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// Parser recovers the structured section from free-form model output. It
// walks a fixed ladder of recognized shapes: fenced JSON block, bare JSON
// object, then key-level regex recovery for truncated output. Anything that
// matches none of them degrades to Parsed{OK: false}; the parser never
// fails the worker.
type Parser struct{}

func NewParser() Parser { return Parser{} }

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

	reasoningRe = regexp.MustCompile(`(?s)["']reasoning["']\s*:\s*"((?:[^"\\]|\\.)*)"`)
	// Closed identifier list, and a second chance for output truncated
	// mid-list (no closing bracket before EOF).
	identifiersRe     = regexp.MustCompile(`(?s)["']identifiers["']\s*:\s*\[(.*?)\]`)
	identifiersOpenRe = regexp.MustCompile(`(?s)["']identifiers["']\s*:\s*\[([^\]]*)$`)
)

func (Parser) Parse(raw string, mode domain.Mode) domain.Parsed {
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.Parsed{}
	}

	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if p, ok := parseObject(m[1]); ok {
			return p
		}
	}
	if p, ok := parseObject(braceSlice(text)); ok {
		return p
	}
	return recoverByKeys(text)
}

// parseObject decodes a candidate JSON object with the expected two keys.
// Identifier entries that are not strings are rendered with fmt.Sprint so a
// sloppy model emitting numbers does not sink the whole response.
func parseObject(candidate string) (domain.Parsed, bool) {
	if candidate == "" {
		return domain.Parsed{}, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return domain.Parsed{}, false
	}
	if _, found := probe["identifiers"]; !found {
		return domain.Parsed{}, false
	}
	var body struct {
		Reasoning   string `json:"reasoning"`
		Identifiers []any  `json:"identifiers"`
	}
	if err := json.Unmarshal([]byte(candidate), &body); err != nil {
		return domain.Parsed{}, false
	}
	ids := make([]string, 0, len(body.Identifiers))
	for _, item := range body.Identifiers {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		} else {
			ids = append(ids, fmt.Sprint(item))
		}
	}
	return domain.Parsed{
		Reasoning:   strings.TrimSpace(body.Reasoning),
		Identifiers: sanitize(ids),
		OK:          true,
	}, true
}

// braceSlice returns the widest first-{ to last-} slice of text.
func braceSlice(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// recoverByKeys is the last-resort path for malformed or truncated output:
// pull the two keys out individually. A response is only considered parsed
// when an identifiers section was found; reasoning alone is kept for
// diagnostics but still counts as a parse failure.
func recoverByKeys(text string) domain.Parsed {
	p := domain.Parsed{}
	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		p.Reasoning = strings.TrimSpace(unescape(m[1]))
	}

	m := identifiersRe.FindStringSubmatch(text)
	if m == nil {
		m = identifiersOpenRe.FindStringSubmatch(text)
	}
	if m == nil {
		return p
	}

	var ids []string
	for _, item := range strings.Split(m[1], ",") {
		ids = append(ids, strings.Trim(strings.TrimSpace(item), `"' `))
	}
	p.Identifiers = sanitize(ids)
	p.OK = true
	return p
}

// sanitize drops empty and punctuation-only entries and deduplicates
// case-sensitively, preserving first-seen order.
func sanitize(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || !hasWordChar(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return true
		}
	}
	return false
}

func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}
