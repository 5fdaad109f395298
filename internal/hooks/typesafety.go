package hooks

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"metaman/api/internal/schema"
	"metaman/api/internal/store"
)

// TypeSafetyHook coerces string-encoded values in metaDataFields to the
// boolean or number type the schema declares, for plain and pattern-matched
// field names. It runs before schema validation so imported "1"/"0" style
// flags validate cleanly.
type TypeSafetyHook struct {
	BaseHook
	registry *schema.Registry

	mu       sync.Mutex
	patterns map[store.EntityType][]compiledPattern
}

type compiledPattern struct {
	re       *regexp.Regexp
	declared string
}

func NewTypeSafetyHook(registry *schema.Registry) *TypeSafetyHook {
	return &TypeSafetyHook{
		registry: registry,
		patterns: make(map[store.EntityType][]compiledPattern),
	}
}

func (h *TypeSafetyHook) Name() string { return "TypeSafetyHook" }

func (h *TypeSafetyHook) PreValidate(_ context.Context, doc *store.MetaData) (*store.MetaData, error) {
	properties := h.registry.MetaDataFieldProperties(doc.Type)
	patterns := h.compiledPatterns(doc.Type)
	fields := doc.MetaDataFields()

	for key, value := range fields {
		declared := declaredType(properties[key])
		if declared == "" {
			for _, pattern := range patterns {
				if pattern.re.MatchString(key) {
					declared = pattern.declared
					break
				}
			}
		}
		if coerced, changed := coerce(value, declared); changed {
			fields[key] = coerced
		}
	}
	return doc, nil
}

func (h *TypeSafetyHook) compiledPatterns(entityType store.EntityType) []compiledPattern {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cached, ok := h.patterns[entityType]; ok {
		return cached
	}
	var compiled []compiledPattern
	for pattern, fragment := range h.registry.MetaDataFieldPatterns(entityType) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if declared := declaredType(fragment); declared != "" {
			compiled = append(compiled, compiledPattern{re: re, declared: declared})
		}
	}
	h.patterns[entityType] = compiled
	return compiled
}

func declaredType(fragment map[string]any) string {
	if fragment == nil {
		return ""
	}
	declared, _ := fragment["type"].(string)
	return declared
}

func coerce(value any, declared string) (any, bool) {
	switch declared {
	case "boolean":
		switch typed := value.(type) {
		case string:
			switch strings.ToLower(typed) {
			case "1", "true", "yes":
				return true, true
			case "0", "false", "no", "":
				return false, true
			}
		case float64:
			return typed != 0, true
		}
	case "number", "integer":
		if typed, ok := value.(string); ok {
			if parsed, err := strconv.ParseFloat(typed, 64); err == nil {
				return parsed, true
			}
		}
	}
	return value, false
}
