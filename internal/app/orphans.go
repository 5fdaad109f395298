package app

import (
	"context"

	"metaman/api/internal/hooks"
	"metaman/api/internal/store"
)

// Orphan is one dangling reference: a relation entry whose target entityid
// no longer resolves to a live document.
type Orphan struct {
	Collection string `json:"collection"`
	MetaDataID string `json:"metaDataId"`
	EntityID   string `json:"entityid"`
	Field      string `json:"field"`
	MissingRef string `json:"missingReference"`
}

// Orphans scans every reference field of every live document and reports
// entries pointing at entities that no longer exist. Cascades normally keep
// the graph consistent; orphans appear after crashes mid-cascade or manual
// database surgery.
func (s *Service) Orphans(ctx context.Context) ([]Orphan, error) {
	orphans := make([]Orphan, 0)
	for _, entityType := range store.EntityTypes {
		fields := store.ReferenceFields(entityType)
		if len(fields) == 0 {
			continue
		}
		docs, err := s.store.Find(ctx, entityType.Collection(), store.Query{})
		if err != nil {
			return nil, asDomainError(err)
		}
		for _, doc := range docs {
			for field, targets := range fields {
				for _, name := range doc.ReferenceNames(field) {
					live, err := s.referenceExists(ctx, targets, name)
					if err != nil {
						return nil, asDomainError(err)
					}
					if !live {
						orphans = append(orphans, Orphan{
							Collection: entityType.Collection(),
							MetaDataID: doc.ID,
							EntityID:   doc.EntityID(),
							Field:      field,
							MissingRef: name,
						})
					}
				}
			}
		}
	}
	return orphans, nil
}

// FixOrphans strips every dangling reference, one revision per affected
// document. Running it twice is harmless.
func (s *Service) FixOrphans(ctx context.Context, user hooks.User) ([]Orphan, error) {
	orphans, err := s.Orphans(ctx)
	if err != nil {
		return nil, err
	}
	byDoc := make(map[string]map[string][]string)
	types := make(map[string]store.EntityType)
	for _, orphan := range orphans {
		key := orphan.Collection + "/" + orphan.MetaDataID
		if byDoc[key] == nil {
			byDoc[key] = make(map[string][]string)
		}
		byDoc[key][orphan.Field] = append(byDoc[key][orphan.Field], orphan.MissingRef)
		entityType, _ := store.ParseEntityType(orphan.Collection)
		types[key] = entityType
	}
	for key, fields := range byDoc {
		entityType := types[key]
		id := key[len(entityType.Collection())+1:]
		doc, err := s.store.FindByID(ctx, entityType.Collection(), id)
		if err != nil {
			return nil, asDomainError(err)
		}
		next := doc.DeepCopy()
		for field, missing := range fields {
			drop := make(map[string]bool, len(missing))
			for _, name := range missing {
				drop[name] = true
			}
			kept := make([]map[string]any, 0)
			for _, ref := range next.References(field) {
				if name, ok := ref["name"].(string); ok && drop[name] {
					continue
				}
				kept = append(kept, ref)
			}
			next.SetReferences(field, kept)
		}
		if err := s.CascadeUpdate(ctx, next, user.Name, "removed dangling references"); err != nil {
			return nil, asDomainError(err)
		}
		s.log.Info().Str("collection", entityType.Collection()).Str("id", id).
			Msg("stripped dangling references")
	}
	return orphans, nil
}

func (s *Service) referenceExists(ctx context.Context, targets []store.EntityType, entityID string) (bool, error) {
	for _, target := range targets {
		exists, err := s.store.Exists(ctx, target.Collection(), store.Query{
			Data: map[string]any{"entityid": entityID},
		})
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}
