package search

import (
	"context"
	"strings"

	"metaman/api/internal/store"
)

// Scan is the fallback searcher: a case-insensitive substring match over a
// full document-store scan. Slow but dependency-free; it keeps search
// working when Meilisearch is down.
type Scan struct {
	docs store.DocumentStore
}

func NewScan(docs store.DocumentStore) *Scan {
	return &Scan{docs: docs}
}

func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(q.Text)
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	types := store.EntityTypes
	if q.FilterType != "" {
		types = []store.EntityType{q.FilterType}
	}
	results := make([]Result, 0)
	total := 0
	for _, entityType := range types {
		docs, err := s.docs.Find(context.Background(), entityType.Collection(), store.Query{})
		if err != nil {
			return nil, 0, err
		}
		for _, doc := range docs {
			record := Record(doc)
			if q.State != "" && record.State != q.State {
				continue
			}
			if needle != "" && !matchesRecord(record, needle) {
				continue
			}
			total++
			if len(results) < limit {
				results = append(results, Result{
					ID:       record.ID,
					EntityID: record.EntityID,
					Type:     record.Type,
					State:    record.State,
					Name:     record.Name,
				})
			}
		}
	}
	return results, total, nil
}

func matchesRecord(record EntityRecord, needle string) bool {
	for _, haystack := range []string{record.EntityID, record.Name, record.Organization} {
		if strings.Contains(strings.ToLower(haystack), needle) {
			return true
		}
	}
	return false
}
