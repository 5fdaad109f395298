package hooks

import (
	"context"

	"metaman/api/internal/store"
)

// strippedFields are the relation lists whose dangling entries are silently
// removed instead of failing the write.
var strippedFields = []string{"allowedEntities", "disableConsent", "allowedResourceServers"}

// EntityIDConstraintsHook strips relation entries whose target entityid does
// not resolve in the expected opposite collection.
type EntityIDConstraintsHook struct {
	BaseHook
	store store.DocumentStore
}

func NewEntityIDConstraintsHook(docs store.DocumentStore) *EntityIDConstraintsHook {
	return &EntityIDConstraintsHook{store: docs}
}

func (h *EntityIDConstraintsHook) Name() string { return "EntityIDConstraintsHook" }

func (h *EntityIDConstraintsHook) PrePost(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return h.strip(ctx, doc)
}

func (h *EntityIDConstraintsHook) PrePut(ctx context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return h.strip(ctx, doc)
}

func (h *EntityIDConstraintsHook) strip(ctx context.Context, doc *store.MetaData) (*store.MetaData, error) {
	referenceFields := store.ReferenceFields(doc.Type)
	for _, field := range strippedFields {
		targets, ok := referenceFields[field]
		if !ok {
			continue
		}
		refs := doc.References(field)
		if len(refs) == 0 {
			continue
		}
		kept := make([]map[string]any, 0, len(refs))
		for _, record := range refs {
			name, _ := record["name"].(string)
			if name == "" {
				continue
			}
			exists, err := h.exists(ctx, targets, name)
			if err != nil {
				return nil, err
			}
			if exists {
				kept = append(kept, record)
			}
		}
		if len(kept) != len(refs) {
			doc.SetReferences(field, kept)
		}
	}
	return doc, nil
}

func (h *EntityIDConstraintsHook) exists(ctx context.Context, targets []store.EntityType, entityID string) (bool, error) {
	for _, target := range targets {
		found, err := h.store.Exists(ctx, target.Collection(), store.Query{
			Data: map[string]any{"entityid": entityID},
		})
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
