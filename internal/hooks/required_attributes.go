package hooks

import (
	"context"

	"metaman/api/internal/schema"
	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

// RequiredAttributesHook enforces schema-declared field companionship: when
// a metaDataFields key with requiredAttributes is present, every companion
// key must be present and non-empty.
type RequiredAttributesHook struct {
	BaseHook
	registry *schema.Registry
}

func NewRequiredAttributesHook(registry *schema.Registry) *RequiredAttributesHook {
	return &RequiredAttributesHook{registry: registry}
}

func (h *RequiredAttributesHook) Name() string { return "RequiredAttributesHook" }

func (h *RequiredAttributesHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.check(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *RequiredAttributesHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.check(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *RequiredAttributesHook) check(doc *store.MetaData) error {
	required := h.registry.RequiredAttributes(doc.Type)
	if len(required) == 0 {
		return nil
	}
	fields := doc.MetaDataFields()
	var failure *validation.Error
	for field, companions := range required {
		if isEmptyValue(fields[field]) {
			continue
		}
		for _, companion := range companions {
			if isEmptyValue(fields[companion]) {
				failure = validation.Merge(failure, validation.Failf(companion,
					"%s is required when %s is set", companion, field))
			}
		}
	}
	if failure != nil {
		return failure
	}
	return nil
}

func isEmptyValue(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	default:
		return false
	}
}
