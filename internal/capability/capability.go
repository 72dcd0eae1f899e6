// Package capability implements the capability-string grammar, wildcard
// matching and specificity ranking. The same functions back server-side
// enforcement and advisory UI filtering so the two can never disagree.
//
// Grammar:
//
//	capability := segment { sep segment }
//	pattern    := "*" | capability | capability sep "*"
//	sep        := "." | ":"
//	segment    := [A-Za-z0-9_-]+
//
// The two separators are interchangeable: "bolt:execute" and "bolt.execute"
// name the same capability.
package capability

import (
	"fmt"
	"strings"

	errors "github.com/frahmantamala/capgate/internal"
)

// Wildcard is the global pattern and the trailing scope-wildcard segment.
const Wildcard = "*"

// Specificity orders matching patterns. Higher values are more specific.
type Specificity int

const (
	// NoMatch is returned by Rank when the pattern does not apply.
	NoMatch Specificity = -1
	// Global is the rank of the "*" pattern.
	Global Specificity = 0
	// Exact outranks every wildcard regardless of depth.
	Exact Specificity = 1 << 20
)

// Kind classifies a pattern.
type Kind int

const (
	KindExact Kind = iota
	KindScope
	KindGlobal
)

func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global wildcard"
	case KindScope:
		return "scope wildcard"
	default:
		return "exact"
	}
}

// KindOf reports the pattern's class without validating it.
func KindOf(pattern string) Kind {
	if pattern == Wildcard {
		return KindGlobal
	}
	segs := split(pattern)
	if len(segs) > 1 && segs[len(segs)-1] == Wildcard {
		return KindScope
	}
	return KindExact
}

// Matches reports whether pattern grants or denies capability.
func Matches(pattern, capability string) bool {
	return Rank(pattern, capability) != NoMatch
}

// Rank returns how specifically pattern matches capability, or NoMatch.
// A scope wildcard ranks by the number of prefix segments it pins, so
// "bolt.task.*" outranks "bolt.*" for "bolt.task.run".
func Rank(pattern, capability string) Specificity {
	if pattern == "" || capability == "" {
		return NoMatch
	}
	if pattern == Wildcard {
		return Global
	}

	p := split(pattern)
	c := split(capability)

	if p[len(p)-1] != Wildcard {
		if equalSegments(p, c) {
			return Exact
		}
		return NoMatch
	}

	prefix := p[:len(p)-1]
	if len(c) <= len(prefix) {
		return NoMatch
	}
	if !equalSegments(prefix, c[:len(prefix)]) {
		return NoMatch
	}
	return Specificity(len(prefix))
}

// Best returns the highest-ranked pattern matching capability together with
// its rank. ok is false when nothing matches.
func Best(patterns []string, capability string) (pattern string, rank Specificity, ok bool) {
	rank = NoMatch
	for _, p := range patterns {
		if r := Rank(p, capability); r > rank {
			pattern, rank = p, r
		}
	}
	return pattern, rank, rank != NoMatch
}

// Allowed applies deny-overrides-allow over two pattern sets: the capability
// is allowed only when the best allow is strictly more specific than the
// best deny. A malformed capability is never allowed.
func Allowed(allowed, denied []string, capability string) bool {
	if ValidateCapability(capability) != nil {
		return false
	}
	_, allowRank, ok := Best(allowed, capability)
	if !ok {
		return false
	}
	_, denyRank, _ := Best(denied, capability)
	return allowRank > denyRank
}

// Filter returns the candidates that Allowed admits, preserving order.
func Filter(allowed, denied, candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if Allowed(allowed, denied, c) {
			out = append(out, c)
		}
	}
	return out
}

// Normalize rewrites every separator to "." so equivalent spellings compare
// equal as map keys.
func Normalize(s string) string {
	return strings.ReplaceAll(s, ":", ".")
}

// ValidatePattern checks a pattern at role-definition time.
func ValidatePattern(pattern string) error {
	if pattern == Wildcard {
		return nil
	}
	segs, err := segments(pattern)
	if err != nil {
		return err
	}
	for i, s := range segs {
		if s == Wildcard {
			if i != len(segs)-1 {
				return invalid(pattern, "wildcard is only allowed as the final segment")
			}
			if i == 0 {
				return invalid(pattern, "scope wildcard needs a scope")
			}
			continue
		}
		if err := validSegment(pattern, s); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCapability checks a concrete capability; wildcards are rejected.
func ValidateCapability(capability string) error {
	segs, err := segments(capability)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if err := validSegment(capability, s); err != nil {
			return err
		}
	}
	return nil
}

func segments(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, invalid(s, "must not be empty")
	}
	segs := split(s)
	for _, seg := range segs {
		if seg == "" {
			return nil, invalid(s, "segments must not be empty")
		}
	}
	return segs, nil
}

func validSegment(raw, seg string) error {
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		case r == '*':
			return invalid(raw, "wildcard must be a whole segment")
		default:
			return invalid(raw, fmt.Sprintf("invalid character %q", r))
		}
	}
	return nil
}

func invalid(raw, reason string) error {
	return errors.NewValidationFieldError("capability", fmt.Sprintf("capability %q: %s", raw, reason), errors.ErrCodeInvalidPattern)
}

// split keeps empty segments so validation can reject "a..b".
func split(s string) []string {
	segs := make([]string, 0, 4)
	start := 0
	for i, r := range s {
		if isSep(r) {
			segs = append(segs, s[start:i])
			start = i + 1
		}
	}
	return append(segs, s[start:])
}

func isSep(r rune) bool {
	return r == '.' || r == ':'
}

func equalSegments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
