package hooks

import (
	"context"
	"fmt"

	"metaman/api/internal/store"
)

// EntityIDReconcilerHook keeps the reference graph consistent when an
// entityid changes or disappears. On rename it rewrites every relation entry
// pointing at the old id; on delete it removes those entries. Each touched
// document gets its own revision-creating update via the Cascader; the
// cascade is not transactional with the primary write.
type EntityIDReconcilerHook struct {
	BaseHook
	store    store.DocumentStore
	cascader Cascader
}

func NewEntityIDReconcilerHook(docs store.DocumentStore, cascader Cascader) *EntityIDReconcilerHook {
	return &EntityIDReconcilerHook{store: docs, cascader: cascader}
}

func (h *EntityIDReconcilerHook) Name() string { return "EntityIDReconcilerHook" }

func (h *EntityIDReconcilerHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.ServiceProvider || doc.Type == store.IdentityProvider
}

func (h *EntityIDReconcilerHook) PrePut(ctx context.Context, previous, doc *store.MetaData, user User) (*store.MetaData, error) {
	oldID := previous.EntityID()
	newID := doc.EntityID()
	if oldID == "" || oldID == newID {
		return doc, nil
	}
	note := fmt.Sprintf("entityid rename from %s to %s", oldID, newID)
	err := h.reconcile(ctx, doc.Type, oldID, user, note, func(record map[string]any) map[string]any {
		record["name"] = newID
		return record
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *EntityIDReconcilerHook) PreDelete(ctx context.Context, doc *store.MetaData, user User) (*store.MetaData, error) {
	entityID := doc.EntityID()
	if entityID == "" {
		return doc, nil
	}
	note := fmt.Sprintf("removed reference to deleted entity %s", entityID)
	err := h.reconcile(ctx, doc.Type, entityID, user, note, func(map[string]any) map[string]any {
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// reconcile visits every (referrer type, relation field) that can point at
// targetType, and rewrites entries whose name equals entityID. A nil result
// from rewrite drops the entry.
func (h *EntityIDReconcilerHook) reconcile(ctx context.Context, targetType store.EntityType, entityID string, user User, note string, rewrite func(map[string]any) map[string]any) error {
	for _, referrerType := range store.EntityTypes {
		for field, targets := range store.ReferenceFields(referrerType) {
			if !containsType(targets, targetType) {
				continue
			}
			referrers, err := h.store.Find(ctx, referrerType.Collection(), store.Query{
				References: map[string]string{field: entityID},
			})
			if err != nil {
				return err
			}
			for _, referrer := range referrers {
				refs := referrer.References(field)
				kept := make([]map[string]any, 0, len(refs))
				for _, record := range refs {
					if name, _ := record["name"].(string); name == entityID {
						if updated := rewrite(record); updated != nil {
							kept = append(kept, updated)
						}
						continue
					}
					kept = append(kept, record)
				}
				referrer.SetReferences(field, kept)
				if err := h.cascader.CascadeUpdate(ctx, referrer, user.Name, note); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func containsType(types []store.EntityType, wanted store.EntityType) bool {
	for _, t := range types {
		if t == wanted {
			return true
		}
	}
	return false
}
