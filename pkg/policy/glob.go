package policy

import (
	"strings"
	"sync"
)

// Pattern is a compiled glob matcher. The syntax is deliberately small:
// `*` matches any run of characters (including none) and every other
// character matches itself. Matching is anchored over the full string.
type Pattern struct {
	raw      string
	literal  bool     // no wildcard, compare directly
	segments []string // literal runs between wildcards
	prefix   bool     // pattern starts with a literal (no leading *)
	suffix   bool     // pattern ends with a literal (no trailing *)
}

// CompilePattern compiles a glob pattern once; reuse the result for
// repeated matching.
func CompilePattern(pattern string) *Pattern {
	if !strings.Contains(pattern, "*") {
		return &Pattern{raw: pattern, literal: true}
	}
	return &Pattern{
		raw:      pattern,
		segments: strings.Split(pattern, "*"),
		prefix:   !strings.HasPrefix(pattern, "*"),
		suffix:   !strings.HasSuffix(pattern, "*"),
	}
}

// Match reports whether s matches the full pattern
func (p *Pattern) Match(s string) bool {
	if p.literal {
		return s == p.raw
	}

	segments := p.segments
	if p.prefix {
		head := segments[0]
		if !strings.HasPrefix(s, head) {
			return false
		}
		s = s[len(head):]
		segments = segments[1:]
	}

	var tail string
	if p.suffix {
		tail = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}

	for _, seg := range segments {
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}

	return strings.HasSuffix(s, tail)
}

// String returns the original pattern text
func (p *Pattern) String() string {
	return p.raw
}

// patternCache avoids recompiling patterns that arrive as strings on every
// policy evaluation (API key policies are stored as plain string lists).
var patternCache sync.Map // string -> *Pattern

// matchGlob matches s against pattern using the compiled-pattern cache
func matchGlob(pattern, s string) bool {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*Pattern).Match(s)
	}
	compiled := CompilePattern(pattern)
	patternCache.Store(pattern, compiled)
	return compiled.Match(s)
}
