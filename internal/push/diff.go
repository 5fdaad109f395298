package push

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// volatile provider-role columns EngineBlock rewrites on every import
var ignoredColumns = map[string]bool{
	"id":              true,
	"name_id_formats": true,
}

// Snapshot maps entity id to the provider-role row as generic columns.
type Snapshot map[string]map[string]any

// Snapshotter reads the push target's provider-role table so a push can be
// verified by before/after comparison.
type Snapshotter interface {
	Providers(ctx context.Context) (Snapshot, error)
}

// SQLSnapshotter reads provider roles straight from the EngineBlock
// database.
type SQLSnapshotter struct {
	db *sql.DB
}

func NewSQLSnapshotter(db *sql.DB) *SQLSnapshotter {
	return &SQLSnapshotter{db: db}
}

func (s *SQLSnapshotter) Providers(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM sso_provider_roles_eb5`)
	if err != nil {
		return nil, fmt.Errorf("snapshot provider roles: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("snapshot provider roles: %w", err)
	}
	snapshot := make(Snapshot)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan provider role: %w", err)
		}
		row := make(map[string]any, len(columns))
		entityID := ""
		for i, column := range columns {
			value := values[i]
			if raw, ok := value.([]byte); ok {
				value = string(raw)
			}
			row[column] = value
			if column == "entity_id" {
				entityID, _ = value.(string)
			}
		}
		if entityID != "" {
			snapshot[entityID] = row
		}
	}
	return snapshot, rows.Err()
}

// Delta is one attribute change observed between the pre- and post-push
// snapshots.
type Delta struct {
	EntityID string `json:"entityId"`
	Column   string `json:"column"`
	Before   any    `json:"before"`
	After    any    `json:"after"`
}

// Diff compares two snapshots attribute by attribute, keyed by entity id,
// skipping the volatile columns. Results are sorted by entity id, then
// column.
func Diff(before, after Snapshot) []Delta {
	deltas := make([]Delta, 0)
	for entityID, afterRow := range after {
		beforeRow, existed := before[entityID]
		if !existed {
			deltas = append(deltas, Delta{EntityID: entityID, Column: "*", After: "created"})
			continue
		}
		for column, afterValue := range afterRow {
			if ignoredColumns[column] {
				continue
			}
			beforeValue := beforeRow[column]
			if fmt.Sprint(beforeValue) != fmt.Sprint(afterValue) {
				deltas = append(deltas, Delta{
					EntityID: entityID,
					Column:   column,
					Before:   beforeValue,
					After:    afterValue,
				})
			}
		}
	}
	for entityID := range before {
		if _, exists := after[entityID]; !exists {
			deltas = append(deltas, Delta{EntityID: entityID, Column: "*", Before: "removed"})
		}
	}
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].EntityID != deltas[j].EntityID {
			return deltas[i].EntityID < deltas[j].EntityID
		}
		return deltas[i].Column < deltas[j].Column
	})
	return deltas
}
