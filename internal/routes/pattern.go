package routes

import (
	"fmt"
	"regexp"
	"strings"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segCatchAll
)

type segment struct {
	kind    segmentKind
	literal string
	param   string
}

var (
	literalRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	paramRe   = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Pattern is a compiled route path pattern. Matching is case-sensitive and
// anchored; a single leading slash is stripped before comparison.
type Pattern struct {
	raw        string
	segments   []segment
	paramCount int
	catchAll   bool
}

// CompilePattern parses a pattern string into a matcher. Segments are
// literals, `:name` single-segment parameters, or a trailing `:name*`
// catch-all. Any violation is a construction error: routing tables are
// built once at startup and must fail fast.
func CompilePattern(raw string) (*Pattern, error) {
	p := &Pattern{raw: raw}
	trimmed := strings.TrimPrefix(raw, "/")
	if trimmed == "" {
		return p, nil
	}

	seen := make(map[string]struct{})
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, ":") && strings.HasSuffix(part, "*"):
			name := strings.TrimSuffix(strings.TrimPrefix(part, ":"), "*")
			if !paramRe.MatchString(name) {
				return nil, fmt.Errorf("pattern %q: invalid parameter name %q", raw, name)
			}
			if i != len(parts)-1 {
				return nil, fmt.Errorf("pattern %q: catch-all parameter %q must be the final segment", raw, name)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("pattern %q: duplicate parameter name %q", raw, name)
			}
			seen[name] = struct{}{}
			p.segments = append(p.segments, segment{kind: segCatchAll, param: name})
			p.paramCount++
			p.catchAll = true
		case strings.HasPrefix(part, ":"):
			name := strings.TrimPrefix(part, ":")
			if !paramRe.MatchString(name) {
				return nil, fmt.Errorf("pattern %q: invalid parameter name %q", raw, name)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("pattern %q: duplicate parameter name %q", raw, name)
			}
			seen[name] = struct{}{}
			p.segments = append(p.segments, segment{kind: segParam, param: name})
			p.paramCount++
		default:
			if !literalRe.MatchString(part) {
				return nil, fmt.Errorf("pattern %q: invalid path segment %q", raw, part)
			}
			p.segments = append(p.segments, segment{kind: segLiteral, literal: part})
		}
	}

	return p, nil
}

// Match resolves a concrete path against the pattern, returning extracted
// parameters on success.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if len(p.segments) == 0 {
		return map[string]string{}, trimmed == ""
	}
	if trimmed == "" {
		return nil, false
	}

	parts := strings.Split(trimmed, "/")
	params := make(map[string]string, p.paramCount)
	for i, seg := range p.segments {
		switch seg.kind {
		case segCatchAll:
			if i >= len(parts) {
				return nil, false
			}
			params[seg.param] = strings.Join(parts[i:], "/")
			return params, true
		case segParam:
			if i >= len(parts) || parts[i] == "" {
				return nil, false
			}
			params[seg.param] = parts[i]
		case segLiteral:
			if i >= len(parts) || parts[i] != seg.literal {
				return nil, false
			}
		}
	}

	if len(parts) != len(p.segments) {
		return nil, false
	}
	return params, true
}

// Signature returns the parameter-erased form of the pattern. Two routes
// with identical signatures would match the same literal paths, which the
// table rejects at build time.
func (p *Pattern) Signature() string {
	if len(p.segments) == 0 {
		return "/"
	}
	parts := make([]string, 0, len(p.segments))
	for _, seg := range p.segments {
		switch seg.kind {
		case segLiteral:
			parts = append(parts, seg.literal)
		case segParam:
			parts = append(parts, ":")
		case segCatchAll:
			parts = append(parts, "*")
		}
	}
	return strings.Join(parts, "/")
}

// ParamCount is the number of named parameters the pattern extracts. The
// table uses it as the specificity score: fewer parameters wins.
func (p *Pattern) ParamCount() int { return p.paramCount }

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }
