package docstore

import (
	"fmt"
	"strings"
)

// Join builds a path from segments, trimming stray slashes.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.Trim(strings.TrimSpace(segment), "/")
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "/")
}

// Segments splits a path and rejects empty segments.
func Segments(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	segments := strings.Split(path, "/")
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return segments, nil
}

// SplitDoc returns a document path's parent collection and id.
func SplitDoc(path string) (collection string, id string, err error) {
	segments, err := Segments(path)
	if err != nil {
		return "", "", err
	}
	if len(segments)%2 != 0 {
		return "", "", fmt.Errorf("path %q is not a document path", path)
	}
	last := len(segments) - 1
	return strings.Join(segments[:last], "/"), segments[last], nil
}

// ValidateCollection checks that path names a collection.
func ValidateCollection(path string) error {
	segments, err := Segments(path)
	if err != nil {
		return err
	}
	if len(segments)%2 != 1 {
		return fmt.Errorf("path %q is not a collection path", path)
	}
	return nil
}
