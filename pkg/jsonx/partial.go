// Package jsonx parses JSON documents that may be truncated, such as tool arguments that are
// still streaming.
package jsonx

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// maxRepairAttempts bounds how many cut points are validated for one buffer.
const maxRepairAttempts = 32

type cutPoint struct {
	pos     int
	closers string
}

// Repair turns a truncated JSON document into the longest valid document it can find by
// closing open strings, arrays and objects, or by cutting back to an earlier element boundary.
// It reports false when no valid prefix exists. Repair never panics.
func Repair(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if gjson.Valid(s) {
		return s, true
	}

	var (
		stack    []byte
		inString bool
		escapeAt = -1
		hexLeft  int
		cuts     []cutPoint
	)
	closers := func() string {
		b := make([]byte, len(stack))
		for i := range stack {
			b[i] = stack[len(stack)-1-i]
		}
		return string(b)
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case hexLeft > 0:
				hexLeft--
				if hexLeft == 0 {
					escapeAt = -1
				}
			case escapeAt >= 0:
				if c == 'u' {
					hexLeft = 4
				} else {
					escapeAt = -1
				}
			case c == '\\':
				escapeAt = i
			case c == '"':
				inString = false
				cuts = append(cuts, cutPoint{pos: i + 1, closers: closers()})
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
			cuts = append(cuts, cutPoint{pos: i + 1, closers: closers()})
		case '[':
			stack = append(stack, ']')
			cuts = append(cuts, cutPoint{pos: i + 1, closers: closers()})
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			cuts = append(cuts, cutPoint{pos: i + 1, closers: closers()})
		case ',':
			cuts = append(cuts, cutPoint{pos: i, closers: closers()})
		}
	}

	var candidate string
	if inString {
		end := len(s)
		if escapeAt >= 0 {
			end = escapeAt
		}
		candidate = s[:end] + `"` + closers()
	} else {
		candidate = strings.TrimRight(s, " \t\r\n,:.+-") + closers()
	}
	if gjson.Valid(candidate) {
		return candidate, true
	}

	attempts := 0
	for i := len(cuts) - 1; i >= 0 && attempts < maxRepairAttempts; i-- {
		attempts++
		candidate = strings.TrimRight(s[:cuts[i].pos], " \t\r\n,") + cuts[i].closers
		if gjson.Valid(candidate) {
			return candidate, true
		}
	}
	if len(cuts) > 0 && attempts >= maxRepairAttempts {
		candidate = s[:cuts[0].pos] + cuts[0].closers
		if gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// ParsePartial decodes a possibly truncated JSON object into a best-effort snapshot.
// It reports false when the buffer is not yet parsable as an object.
func ParsePartial(s string) (map[string]any, bool) {
	repaired, ok := Repair(s)
	if !ok || !gjson.Parse(repaired).IsObject() {
		return nil, false
	}
	result := make(map[string]any)
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return nil, false
	}
	return result, true
}

// PartialObject accumulates streamed JSON text and keeps the latest parsable snapshot.
// The zero value is ready to use. It is not safe for concurrent use.
type PartialObject struct {
	buf  strings.Builder
	last map[string]any
}

// Write appends a delta and returns the best snapshot so far. When the buffer is not
// parsable yet, the previous snapshot is returned with ok set to false.
func (p *PartialObject) Write(delta string) (snapshot map[string]any, ok bool) {
	p.buf.WriteString(delta)
	if v, parsed := ParsePartial(p.buf.String()); parsed {
		p.last = v
		return v, true
	}
	return p.last, false
}

// String returns the raw accumulated text.
func (p *PartialObject) String() string {
	return p.buf.String()
}

// Snapshot returns the last successfully parsed value, or nil.
func (p *PartialObject) Snapshot() map[string]any {
	return p.last
}
