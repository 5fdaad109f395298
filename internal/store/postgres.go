package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore keeps every collection in one documents table keyed by
// (collection, id), with the document body as JSONB and a version column
// driving compare-and-swap updates.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) FindByID(ctx context.Context, collection, id string) (*MetaData, error) {
	var body []byte
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT body, version FROM documents WHERE collection=$1 AND id=$2
	`, collection, id).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document %s/%s: %w", collection, id, err)
	}
	return decodeDocument(body, version)
}

func (s *PostgresStore) Save(ctx context.Context, collection string, doc *MetaData) error {
	if doc.Version == 0 {
		doc.Version = 1
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, version, body)
		VALUES ($1, $2, $3, $4)
	`, collection, doc.ID, doc.Version, body)
	if err != nil {
		return fmt.Errorf("insert document %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, collection string, doc *MetaData) error {
	expected := doc.Version
	doc.Version = expected + 1
	body, err := json.Marshal(doc)
	if err != nil {
		doc.Version = expected
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET body=$4, version=$3, updated_at=NOW()
		WHERE collection=$1 AND id=$2 AND version=$5
	`, collection, doc.ID, doc.Version, body, expected)
	if err != nil {
		doc.Version = expected
		return fmt.Errorf("update document %s/%s: %w", collection, doc.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		doc.Version = expected
		return fmt.Errorf("update document %s/%s: %w", collection, doc.ID, err)
	}
	if affected == 0 {
		doc.Version = expected
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM documents WHERE collection=$1 AND id=$2)
		`, collection, doc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check document %s/%s: %w", collection, doc.ID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrOptimisticLock
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE collection=$1 AND id=$2
	`, collection, id)
	if err != nil {
		return fmt.Errorf("remove document %s/%s: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove document %s/%s: %w", collection, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, collection string, query Query) ([]*MetaData, error) {
	where, args, err := buildWhere(collection, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, version FROM documents WHERE `+where+` ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents in %s: %w", collection, err)
	}
	defer rows.Close()

	items := make([]*MetaData, 0)
	for rows.Next() {
		var body []byte
		var version int64
		if err := rows.Scan(&body, &version); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decodeDocument(body, version)
		if err != nil {
			return nil, err
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents in %s: %w", collection, err)
	}
	return items, nil
}

func (s *PostgresStore) Count(ctx context.Context, collection string, query Query) (int, error) {
	where, args, err := buildWhere(collection, query)
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE `+where,
		args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents in %s: %w", collection, err)
	}
	return count, nil
}

func (s *PostgresStore) Exists(ctx context.Context, collection string, query Query) (bool, error) {
	count, err := s.Count(ctx, collection, query)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *PostgresStore) FindAllAndRemove(ctx context.Context, collection string, query Query) (int, error) {
	where, args, err := buildWhere(collection, query)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE `+where,
		args...)
	if err != nil {
		return 0, fmt.Errorf("remove documents in %s: %w", collection, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove documents in %s: %w", collection, err)
	}
	return int(affected), nil
}

// buildWhere translates a Query into a WHERE clause. Equality and relation
// membership collapse into one JSONB containment example; key presence and
// parent id get dedicated clauses.
func buildWhere(collection string, query Query) (string, []any, error) {
	clauses := []string{"collection=$1"}
	args := []any{collection}

	example := map[string]any{}
	for key, value := range query.Data {
		example[key] = value
	}
	if len(query.MetaDataFields) > 0 {
		fields := map[string]any{}
		for key, value := range query.MetaDataFields {
			fields[key] = value
		}
		example["metaDataFields"] = fields
	}
	for field, name := range query.References {
		example[field] = []any{map[string]any{"name": name}}
	}
	if len(example) > 0 {
		raw, err := json.Marshal(example)
		if err != nil {
			return "", nil, fmt.Errorf("encode query example: %w", err)
		}
		args = append(args, string(raw))
		clauses = append(clauses, fmt.Sprintf("body->'data' @> $%d::jsonb", len(args)))
	}
	if query.HasMetaDataField != "" {
		args = append(args, query.HasMetaDataField)
		clauses = append(clauses, fmt.Sprintf("body->'data'->'metaDataFields' ? $%d", len(args)))
	}
	if query.ParentID != "" {
		args = append(args, query.ParentID)
		clauses = append(clauses, fmt.Sprintf("body->'revision'->>'parentId' = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func decodeDocument(body []byte, version int64) (*MetaData, error) {
	var doc MetaData
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	// The version column is authoritative over whatever the body carried.
	doc.Version = version
	return &doc, nil
}
