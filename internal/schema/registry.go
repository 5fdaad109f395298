// Package schema loads the per-type JSON schemas and exposes validation,
// default templates and a generic representation for hook introspection.
package schema

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

var errorPrinter = message.NewPrinter(language.English)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

type entry struct {
	schema         *jsonschema.Schema
	representation map[string]any
}

type Registry struct {
	entries map[store.EntityType]*entry
}

// NewRegistry compiles every embedded schema. Missing or invalid schemas are
// a startup failure, not a runtime one.
func NewRegistry() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	registry := &Registry{entries: make(map[store.EntityType]*entry)}

	for _, entityType := range store.EntityTypes {
		name := string(entityType) + ".schema.json"
		raw, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		representation, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema %s: not an object", name)
		}
		registry.entries[entityType] = &entry{schema: compiled, representation: representation}
	}
	return registry, nil
}

// Validate checks data against the type's schema and reports violations as a
// validation.Error with one (field, message) pair per failing leaf.
func (r *Registry) Validate(entityType store.EntityType, data map[string]any) error {
	entry, ok := r.entries[entityType]
	if !ok {
		return fmt.Errorf("no schema for entity type %s", entityType)
	}
	err := entry.schema.Validate(normalize(data))
	if err == nil {
		return nil
	}
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("validate %s: %w", entityType, err)
	}
	failure := &validation.Error{}
	collectLeaves(validationErr, failure)
	if len(failure.Violations) == 0 {
		failure.Violations = append(failure.Violations, validation.Violation{Message: validationErr.Error()})
	}
	return failure
}

// Representation returns the parsed schema document for introspection by
// hooks. Callers must not mutate it.
func (r *Registry) Representation(entityType store.EntityType) map[string]any {
	entry, ok := r.entries[entityType]
	if !ok {
		return nil
	}
	return entry.representation
}

// MetaDataFieldProperties returns the declared metaDataFields properties
// (field name to schema fragment).
func (r *Registry) MetaDataFieldProperties(entityType store.EntityType) map[string]map[string]any {
	return schemaProperties(r.metaDataFieldsSchema(entityType), "properties")
}

// MetaDataFieldPatterns returns the declared metaDataFields patternProperties
// (pattern to schema fragment).
func (r *Registry) MetaDataFieldPatterns(entityType store.EntityType) map[string]map[string]any {
	return schemaProperties(r.metaDataFieldsSchema(entityType), "patternProperties")
}

// RequiredAttributes returns, per declared metaDataFields key, the companion
// keys that must be present whenever that key is set.
func (r *Registry) RequiredAttributes(entityType store.EntityType) map[string][]string {
	required := map[string][]string{}
	for field, fragment := range r.MetaDataFieldProperties(entityType) {
		raw, ok := fragment["requiredAttributes"].([]any)
		if !ok {
			continue
		}
		companions := make([]string, 0, len(raw))
		for _, value := range raw {
			if name, ok := value.(string); ok {
				companions = append(companions, name)
			}
		}
		if len(companions) > 0 {
			required[field] = companions
		}
	}
	return required
}

// TopLevelProperties returns the declared top-level data keys of the type.
func (r *Registry) TopLevelProperties(entityType store.EntityType) map[string]map[string]any {
	entry, ok := r.entries[entityType]
	if !ok {
		return nil
	}
	return schemaProperties(entry.representation, "properties")
}

// Template builds the default document body for a type: required scalars,
// empty metaDataFields and empty relation lists.
func (r *Registry) Template(entityType store.EntityType) map[string]any {
	body := map[string]any{
		"entityid":       "",
		"state":          "testaccepted",
		"metaDataFields": map[string]any{},
	}
	for field := range store.ReferenceFields(entityType) {
		body[field] = []any{}
	}
	switch entityType {
	case store.ServiceProvider, store.RelyingParty, store.SRAM:
		body["arp"] = map[string]any{"enabled": false, "attributes": map[string]any{}}
	}
	return body
}

func (r *Registry) metaDataFieldsSchema(entityType store.EntityType) map[string]any {
	entry, ok := r.entries[entityType]
	if !ok {
		return nil
	}
	properties, ok := entry.representation["properties"].(map[string]any)
	if !ok {
		return nil
	}
	fields, ok := properties["metaDataFields"].(map[string]any)
	if !ok {
		return nil
	}
	return fields
}

func schemaProperties(schema map[string]any, key string) map[string]map[string]any {
	if schema == nil {
		return nil
	}
	raw, ok := schema[key].(map[string]any)
	if !ok {
		return nil
	}
	properties := make(map[string]map[string]any, len(raw))
	for name, fragment := range raw {
		if object, ok := fragment.(map[string]any); ok {
			properties[name] = object
		}
	}
	return properties
}

func collectLeaves(err *jsonschema.ValidationError, failure *validation.Error) {
	if len(err.Causes) == 0 {
		field := strings.Join(err.InstanceLocation, "/")
		failure.Violations = append(failure.Violations, validation.Violation{
			Field:   field,
			Message: err.ErrorKind.LocalizedString(errorPrinter),
		})
		return
	}
	for _, cause := range err.Causes {
		collectLeaves(cause, failure)
	}
}

// normalize re-types values the JSON decoder may have left as concrete Go
// types so the validator sees plain JSON shapes.
func normalize(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		normalized := make(map[string]any, len(typed))
		for key, inner := range typed {
			normalized[key] = normalize(inner)
		}
		return normalized
	case []any:
		normalized := make([]any, len(typed))
		for i, inner := range typed {
			normalized[i] = normalize(inner)
		}
		return normalized
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	default:
		return typed
	}
}
