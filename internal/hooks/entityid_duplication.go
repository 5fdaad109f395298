package hooks

import (
	"context"

	"metaman/api/internal/store"
)

// EntityIDDuplicationHook rejects a create or rename whose entityid already
// exists in any collection of the document's identity group, excluding the
// document itself on update.
type EntityIDDuplicationHook struct {
	BaseHook
	store store.DocumentStore
}

func NewEntityIDDuplicationHook(docs store.DocumentStore) *EntityIDDuplicationHook {
	return &EntityIDDuplicationHook{store: docs}
}

func (h *EntityIDDuplicationHook) Name() string { return "EntityIDDuplicationHook" }

func (h *EntityIDDuplicationHook) PrePost(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.check(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *EntityIDDuplicationHook) PrePut(ctx context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.check(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *EntityIDDuplicationHook) check(ctx context.Context, doc *store.MetaData) error {
	entityID := doc.EntityID()
	if entityID == "" {
		return nil
	}
	for _, groupType := range store.IdentityGroup(doc.Type) {
		existing, err := h.store.Find(ctx, groupType.Collection(), store.Query{
			Data: map[string]any{"entityid": entityID},
		})
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.ID != doc.ID {
				return &DuplicateEntityIDError{EntityID: entityID, Existing: groupType}
			}
		}
	}
	return nil
}
