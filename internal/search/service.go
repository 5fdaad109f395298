package search

import (
	"github.com/rs/zerolog"

	"metaman/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to a
// store scan. It also receives index updates from the metadata service.
type Service struct {
	meili *Meili
	scan  *Scan
	log   zerolog.Logger
}

// NewService creates the search facade. meili may be nil when Meilisearch
// is not configured.
func NewService(meili *Meili, scan *Scan, log zerolog.Logger) *Service {
	return &Service{meili: meili, scan: scan, log: log.With().Str("component", "search").Logger()}
}

// Search tries Meilisearch if healthy, otherwise scans the store.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to scan")
	}
	results, total, err := s.scan.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("scan search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMetaData upserts a document into the index, fire-and-forget.
func (s *Service) IndexMetaData(doc *store.MetaData) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := Record(doc)
	go func() {
		if err := s.meili.Index(record); err != nil {
			s.log.Warn().Err(err).Str("id", record.ID).Msg("index entity")
		}
	}()
}

// RemoveMetaData deletes a document from the index, fire-and-forget.
func (s *Service) RemoveMetaData(_ store.EntityType, id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Delete(id); err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("delete entity from index")
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
