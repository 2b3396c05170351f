package trigger

import (
	"fmt"
	"strings"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
)

// Params holds the values a path bound to a pattern's {name} segments.
type Params map[string]string

// Pattern is a document path template such as "events/{eventId}".
type Pattern struct {
	raw      string
	segments []string
}

// ParsePattern parses a document path template. Parameter segments are
// written {name}; names must be unique.
func ParsePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	segments, err := docstore.Segments(raw)
	if err != nil {
		return Pattern{}, fmt.Errorf("parse pattern: %w", err)
	}
	if len(segments)%2 != 0 {
		return Pattern{}, fmt.Errorf("parse pattern %q: not a document path", raw)
	}
	seen := make(map[string]struct{})
	for _, segment := range segments {
		name, isParam := paramName(segment)
		if !isParam {
			if strings.ContainsAny(segment, "{}") {
				return Pattern{}, fmt.Errorf("parse pattern %q: malformed segment %q", raw, segment)
			}
			continue
		}
		if name == "" {
			return Pattern{}, fmt.Errorf("parse pattern %q: empty parameter name", raw)
		}
		if _, ok := seen[name]; ok {
			return Pattern{}, fmt.Errorf("parse pattern %q: duplicate parameter %q", raw, name)
		}
		seen[name] = struct{}{}
	}
	return Pattern{raw: raw, segments: segments}, nil
}

// MustParsePattern is ParsePattern for static patterns; it panics on error.
func MustParsePattern(raw string) Pattern {
	pattern, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return pattern
}

func (p Pattern) String() string {
	return p.raw
}

// Shape returns the pattern with parameter names erased, so "items/{id}"
// and "items/{key}" share the shape "items/{}".
func (p Pattern) Shape() string {
	shape := make([]string, len(p.segments))
	for i, segment := range p.segments {
		if _, isParam := paramName(segment); isParam {
			segment = "{}"
		}
		shape[i] = segment
	}
	return strings.Join(shape, "/")
}

// Match reports whether path fits the pattern and extracts its parameters.
func (p Pattern) Match(path string) (Params, bool) {
	segments, err := docstore.Segments(path)
	if err != nil || len(segments) != len(p.segments) {
		return nil, false
	}
	params := Params{}
	for i, segment := range p.segments {
		if name, isParam := paramName(segment); isParam {
			params[name] = segments[i]
			continue
		}
		if segment != segments[i] {
			return nil, false
		}
	}
	return params, true
}

func paramName(segment string) (string, bool) {
	if len(segment) >= 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
		return segment[1 : len(segment)-1], true
	}
	return "", false
}
