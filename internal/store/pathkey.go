package store

import (
	"strconv"
	"strings"
)

// Path addressing over the generic document tree. Storage keeps
// metaDataFields flattened with colon-delimited compound keys
// ("contacts:0:givenName"); internally we parse a path once and walk the
// nested structure instead of splitting strings at every call site.

// SplitColonKey breaks a flattened metaDataFields key into its segments.
func SplitColonKey(key string) []string {
	return strings.Split(key, ":")
}

// PathSegments parses a dot-separated update path. A segment that parses as
// an integer addresses a list index.
func PathSegments(path string) []string {
	return strings.Split(path, ".")
}

// GetPath walks data along a dot-separated path and returns the value, or
// nil and false when any segment is missing.
func GetPath(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, segment := range PathSegments(path) {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// SetPath writes value at a dot-separated path, creating intermediate maps
// as needed. List segments must already exist; a missing list index fails.
func SetPath(data map[string]any, path string, value any) bool {
	segments := PathSegments(path)
	var current any = data
	for i, segment := range segments {
		last := i == len(segments)-1
		switch node := current.(type) {
		case map[string]any:
			if last {
				node[segment] = value
				return true
			}
			next, ok := node[segment]
			if !ok {
				child := map[string]any{}
				node[segment] = child
				current = child
				continue
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return false
			}
			if last {
				node[index] = value
				return true
			}
			current = node[index]
		default:
			return false
		}
	}
	return false
}

// DeletePath removes the value at a dot-separated path. Only map leaves can
// be removed; missing segments are a no-op.
func DeletePath(data map[string]any, path string) bool {
	segments := PathSegments(path)
	if len(segments) == 0 {
		return false
	}
	var current any = data
	for _, segment := range segments[:len(segments)-1] {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return false
			}
			current = node[index]
		default:
			return false
		}
	}
	leaf, ok := current.(map[string]any)
	if !ok {
		return false
	}
	last := segments[len(segments)-1]
	if _, ok := leaf[last]; !ok {
		return false
	}
	delete(leaf, last)
	return true
}
