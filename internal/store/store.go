package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document id does not exist in a collection.
	ErrNotFound = errors.New("document not found")
	// ErrOptimisticLock is returned when an update carries a stale version.
	ErrOptimisticLock = errors.New("document was changed by a concurrent update")
)

// Query is a query-by-example over one collection. All populated clauses are
// combined with AND.
type Query struct {
	// Data matches equality on top-level data keys ({"entityid": "..."}).
	Data map[string]any
	// MetaDataFields matches equality on flattened metaDataFields keys.
	MetaDataFields map[string]any
	// References matches documents whose relation field contains a record
	// {"name": <value>}.
	References map[string]string
	// HasMetaDataField matches documents whose metaDataFields carries the key.
	HasMetaDataField string
	// ParentID matches the embedded revision parent id (shadow collections).
	ParentID string
}

// DocumentStore is the generic key-ordered document collection the service
// and hooks run against. Implementations: PostgresStore, MemoryStore.
type DocumentStore interface {
	FindByID(ctx context.Context, collection, id string) (*MetaData, error)
	Save(ctx context.Context, collection string, doc *MetaData) error
	// Update writes doc with a compare-and-swap on its version and bumps the
	// version on success. A stale version yields ErrOptimisticLock.
	Update(ctx context.Context, collection string, doc *MetaData) error
	Remove(ctx context.Context, collection, id string) error
	Find(ctx context.Context, collection string, query Query) ([]*MetaData, error)
	Count(ctx context.Context, collection string, query Query) (int, error)
	Exists(ctx context.Context, collection string, query Query) (bool, error)
	FindAllAndRemove(ctx context.Context, collection string, query Query) (int, error)
	Ping(ctx context.Context) error
}

func matches(doc *MetaData, query Query) bool {
	for key, want := range query.Data {
		if !jsonEqual(doc.Data[key], want) {
			return false
		}
	}
	if len(query.MetaDataFields) > 0 || query.HasMetaDataField != "" {
		fields, _ := doc.Data["metaDataFields"].(map[string]any)
		for key, want := range query.MetaDataFields {
			if fields == nil || !jsonEqual(fields[key], want) {
				return false
			}
		}
		if query.HasMetaDataField != "" {
			if fields == nil {
				return false
			}
			if _, ok := fields[query.HasMetaDataField]; !ok {
				return false
			}
		}
	}
	for field, name := range query.References {
		found := false
		for _, ref := range doc.ReferenceNames(field) {
			if ref == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if query.ParentID != "" && doc.Revision.ParentID != query.ParentID {
		return false
	}
	return true
}

// jsonEqual compares scalars the way JSON round-tripping leaves them, so a
// query for int 1 still matches a stored float64(1).
func jsonEqual(got, want any) bool {
	if got == want {
		return true
	}
	gotNum, gotOK := asFloat(got)
	wantNum, wantOK := asFloat(want)
	if gotOK && wantOK {
		return gotNum == wantNum
	}
	return false
}

func asFloat(value any) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case int:
		return float64(number), true
	case int64:
		return float64(number), true
	default:
		return 0, false
	}
}
