package hooks

import (
	"context"

	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

const requireLoaField = "coin:stepup:requireloa"

// SSIDValidationHook rejects a required-LoA setting on an entity that is
// already the target of an identity provider's stepupEntities list: the two
// step-up mechanisms are mutually exclusive.
type SSIDValidationHook struct {
	BaseHook
	store store.DocumentStore
}

func NewSSIDValidationHook(docs store.DocumentStore) *SSIDValidationHook {
	return &SSIDValidationHook{store: docs}
}

func (h *SSIDValidationHook) Name() string { return "SSIDValidationHook" }

func (h *SSIDValidationHook) Applies(doc *store.MetaData) bool {
	if doc.Type != store.ServiceProvider && doc.Type != store.RelyingParty {
		return false
	}
	return doc.StringField(requireLoaField) != ""
}

func (h *SSIDValidationHook) PrePost(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.check(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *SSIDValidationHook) PrePut(ctx context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.check(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *SSIDValidationHook) check(ctx context.Context, doc *store.MetaData) error {
	referenced, err := h.store.Exists(ctx, store.IdentityProvider.Collection(), store.Query{
		References: map[string]string{"stepupEntities": doc.EntityID()},
	})
	if err != nil {
		return err
	}
	if referenced {
		return validation.Failf(requireLoaField,
			"%s cannot be set: entity is already a stepupEntities target of an identity provider", requireLoaField)
	}
	return nil
}
