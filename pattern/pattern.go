// Package pattern compiles subscription patterns into matchers.
//
// A pattern is a dot-separated identifier in which "*" stands for any
// sequence of characters (including dots). All other characters are matched
// literally and case-sensitively.
//
// A pattern without "*" matches only the identical identifier. A pattern with
// "*" is anchored at the start only: "a.*.c" matches both "a.b.c" and
// "a.b.c.d".
package pattern

import (
	"regexp"
	"strings"
)

// Matcher is a compiled pattern
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile converts a pattern into a Matcher
func Compile(pattern string) Matcher {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := "^" + strings.Join(parts, ".*")
	if len(parts) == 1 {
		expr += "$"
	}
	return Matcher{pattern: pattern, re: regexp.MustCompile(expr)}
}

// Match returns true if the identifier matches the pattern
func (m Matcher) Match(id string) bool {
	if m.re == nil {
		return false
	}
	return m.re.MatchString(id)
}

// String returns the source pattern
func (m Matcher) String() string {
	return m.pattern
}
