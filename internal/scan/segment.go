// Package scan pulls balanced bracket segments (JSON arrays or objects)
// out of larger documents such as server-rendered HTML.
package scan

import (
	"errors"
	"regexp"
)

// ErrNotFound reports that the marker did not occur or the structure it
// introduces never closed.
var ErrNotFound = errors.New("balanced segment not found")

// Segment returns the first balanced structure introduced by marker.
//
// Scanning starts at the opening bracket the match ends with, or at the first
// opening bracket following the match when only whitespace separates them.
// Brackets inside double-quoted strings are ignored, and a backslash inside a
// string consumes the next byte. The surrounding document does not need to be
// valid JSON.
func Segment(document string, marker *regexp.Regexp) (string, error) {
	if marker == nil {
		return "", ErrNotFound
	}
	loc := marker.FindStringIndex(document)
	if loc == nil {
		return "", ErrNotFound
	}
	start, ok := openingBracket(document, loc[0], loc[1])
	if !ok {
		return "", ErrNotFound
	}
	end, ok := matchingClose(document, start)
	if !ok {
		return "", ErrNotFound
	}
	return document[start:end], nil
}

// SegmentAfter is Segment with a literal marker.
func SegmentAfter(document, marker string) (string, error) {
	if marker == "" {
		return "", ErrNotFound
	}
	return Segment(document, regexp.MustCompile(regexp.QuoteMeta(marker)))
}

func openingBracket(document string, matchStart, matchEnd int) (int, bool) {
	if matchEnd > matchStart && isOpen(document[matchEnd-1]) {
		return matchEnd - 1, true
	}
	for i := matchEnd; i < len(document); i++ {
		switch c := document[i]; {
		case isOpen(c):
			return i, true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			return 0, false
		}
	}
	return 0, false
}

func matchingClose(document string, start int) (int, bool) {
	depth := 0
	inString := false
	for i := start; i < len(document); i++ {
		c := document[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
		case isOpen(c):
			depth++
		case c == ']' || c == '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func isOpen(c byte) bool {
	return c == '[' || c == '{'
}
