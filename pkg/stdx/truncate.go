package stdx

import (
	"fmt"
	"unicode/utf8"
)

// Truncate shortens s to at most limit runes and appends a marker telling how many were cut.
// Strings within the limit are returned as is.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + fmt.Sprintf("... [truncated %d characters]", utf8.RuneCountInString(s[i:]))
		}
		n++
	}
	return s
}
