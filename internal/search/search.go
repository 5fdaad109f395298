// Package search provides full-text entity lookup, backed by Meilisearch
// with a document-store scan fallback.
package search

import "metaman/api/internal/store"

// EntityRecord is the data indexed per registry document.
type EntityRecord struct {
	ID           string `json:"id"`
	EntityID     string `json:"entityid"`
	Type         string `json:"type"`
	State        string `json:"state"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
}

// Query describes an entity search request.
type Query struct {
	Text       string
	FilterType store.EntityType // empty = all types
	State      string
	Limit      int
}

// Result is a single hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	EntityID string `json:"entityid"`
	Type     string `json:"type"`
	State    string `json:"state"`
	Name     string `json:"name"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text entity search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record flattens a document into its indexable shape.
func Record(doc *store.MetaData) EntityRecord {
	record := EntityRecord{
		ID:       doc.ID,
		EntityID: doc.EntityID(),
		Type:     string(doc.Type),
		State:    doc.State(),
	}
	for _, key := range []string{"name:en", "name:nl"} {
		if name := doc.StringField(key); name != "" {
			record.Name = name
			break
		}
	}
	if record.Name == "" {
		if name, ok := doc.Data["name"].(string); ok {
			record.Name = name
		}
	}
	for _, key := range []string{"OrganizationName:en", "OrganizationName:nl"} {
		if org := doc.StringField(key); org != "" {
			record.Organization = org
			break
		}
	}
	return record
}
