package app

import (
	"context"
	"reflect"
	"time"

	"metaman/api/internal/feed"
	"metaman/api/internal/hooks"
	"metaman/api/internal/store"
)

const importedFromEduGainField = "coin:imported_from_edugain"
const publishInEduGainField = "coin:publish_in_edugain"

// FeedImportReport categorizes every entity seen during a feed reconcile.
type FeedImportReport struct {
	Imported           []string `json:"imported"`
	Merged             []string `json:"merged"`
	NoChanges          []string `json:"no_changes"`
	NotImported        []string `json:"not_imported"`
	PublishedInEduGain []string `json:"published_in_edugain"`
	Deleted            []string `json:"deleted"`
	NotValid           []string `json:"not_valid"`
	Total              int      `json:"total"`
}

type feedSource interface {
	Fetch(ctx context.Context, overrideURL string) ([]feed.Entity, error)
}

// SetFeed attaches the feed fetcher used by ImportFeed.
func (s *Service) SetFeed(source feedSource) {
	s.feed = source
}

// ImportFeed reconciles the remote SP feed against the local service
// providers previously imported from it. New entries are created, changed
// entries merged, entries gone from the feed deleted. Providers registered
// locally, or published by us into the feed, are reported but never
// touched.
func (s *Service) ImportFeed(ctx context.Context, overrideURL string, user hooks.User) (*FeedImportReport, error) {
	if s.feed == nil {
		return nil, domainError(400, "ValidationFailure", "no metadata feed configured", nil)
	}
	start := time.Now()
	entities, err := s.feed.Fetch(ctx, overrideURL)
	if err != nil {
		return nil, asDomainError(err)
	}
	report := &FeedImportReport{
		Imported:           []string{},
		Merged:             []string{},
		NoChanges:          []string{},
		NotImported:        []string{},
		PublishedInEduGain: []string{},
		Deleted:            []string{},
		NotValid:           []string{},
		Total:              len(entities),
	}

	seen := make(map[string]bool, len(entities))
	for _, entity := range entities {
		if !entity.Valid() {
			report.NotValid = append(report.NotValid, entity.EntityID)
			continue
		}
		seen[entity.EntityID] = true
		local, err := s.findByEntityID(ctx, store.ServiceProvider, entity.EntityID)
		if err != nil {
			return nil, asDomainError(err)
		}
		switch {
		case local == nil:
			if err := s.importEntity(ctx, entity, user); err != nil {
				s.log.Warn().Err(err).Str("entityid", entity.EntityID).Msg("feed entity rejected")
				report.NotValid = append(report.NotValid, entity.EntityID)
				continue
			}
			report.Imported = append(report.Imported, entity.EntityID)
		case local.BoolField(publishInEduGainField):
			report.PublishedInEduGain = append(report.PublishedInEduGain, entity.EntityID)
		case !local.BoolField(importedFromEduGainField):
			report.NotImported = append(report.NotImported, entity.EntityID)
		default:
			result, err := s.mergeEntity(ctx, local, entity, user)
			if err != nil {
				s.log.Warn().Err(err).Str("entityid", entity.EntityID).Msg("feed merge rejected")
				report.NotValid = append(report.NotValid, entity.EntityID)
				continue
			}
			if result.Changed {
				report.Merged = append(report.Merged, entity.EntityID)
			} else {
				report.NoChanges = append(report.NoChanges, entity.EntityID)
			}
		}
	}

	// imported providers gone from the feed are retired
	imported, err := s.store.Find(ctx, store.ServiceProvider.Collection(), store.Query{
		MetaDataFields: map[string]any{importedFromEduGainField: true},
	})
	if err != nil {
		return nil, asDomainError(err)
	}
	for _, doc := range imported {
		if seen[doc.EntityID()] {
			continue
		}
		if err := s.Delete(ctx, store.ServiceProvider, doc.ID, user, "no longer present in metadata feed"); err != nil {
			return nil, err
		}
		report.Deleted = append(report.Deleted, doc.EntityID())
	}

	s.metrics.FeedImportsTotal.Inc()
	for outcome, count := range map[string]int{
		"imported":             len(report.Imported),
		"merged":               len(report.Merged),
		"no_changes":           len(report.NoChanges),
		"not_imported":         len(report.NotImported),
		"published_in_edugain": len(report.PublishedInEduGain),
		"deleted":              len(report.Deleted),
		"not_valid":            len(report.NotValid),
	} {
		s.metrics.FeedImportedDocs.WithLabelValues(outcome).Add(float64(count))
	}
	s.log.Info().Int("total", report.Total).Int("imported", len(report.Imported)).
		Int("merged", len(report.Merged)).Int("deleted", len(report.Deleted)).
		Dur("elapsed", time.Since(start)).Msg("feed import finished")
	return report, nil
}

func (s *Service) importEntity(ctx context.Context, entity feed.Entity, user hooks.User) error {
	doc := &store.MetaData{
		Type: store.ServiceProvider,
		Data: s.registry.Template(store.ServiceProvider),
	}
	doc.Data["entityid"] = entity.EntityID
	doc.Data["state"] = "prodaccepted"
	fields := doc.MetaDataFields()
	for key, value := range entity.MetaDataFields {
		fields[key] = value
	}
	fields[importedFromEduGainField] = true
	doc.Data["revisionnote"] = "imported from metadata feed"
	_, err := s.Create(ctx, doc, user, false)
	return err
}

func (s *Service) mergeEntity(ctx context.Context, local *store.MetaData, entity feed.Entity, user hooks.User) (*MergeUpdateResult, error) {
	updates := make(map[string]any)
	fields := local.MetaDataFields()
	for key, value := range entity.MetaDataFields {
		if !reflect.DeepEqual(fields[key], value) {
			updates["metaDataFields."+key] = value
		}
	}
	if len(updates) == 0 {
		return &MergeUpdateResult{Changed: false}, nil
	}
	return s.MergeUpdate(ctx, store.ServiceProvider, local.ID, updates, user, "merged from metadata feed")
}

func (s *Service) findByEntityID(ctx context.Context, entityType store.EntityType, entityID string) (*store.MetaData, error) {
	docs, err := s.store.Find(ctx, entityType.Collection(), store.Query{
		Data: map[string]any{"entityid": entityID},
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}
