package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

// ResourceStore implements ports.ResourceStore using SQLite. Bodies are
// stored as JSON text.
type ResourceStore struct {
	db    *DB
	clock ports.Clock
}

// NewResourceStore creates a new resource store.
func NewResourceStore(db *DB, clock ports.Clock) *ResourceStore {
	return &ResourceStore{db: db, clock: clock}
}

// Get retrieves one resource.
func (s *ResourceStore) Get(ctx context.Context, typ string, id int64) (resource.Resource, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM resources WHERE type = ? AND id = ?`,
		typ, id,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("get %s %d: %w", typ, id, err)
	}
	return resource.Decode([]byte(body))
}

// List returns all resources of a type ordered by id.
func (s *ResourceStore) List(ctx context.Context, typ string) ([]resource.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM resources WHERE type = ? ORDER BY id`,
		typ,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	defer rows.Close()

	var out []resource.Resource
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		r, err := resource.Decode([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Put creates or replaces a resource.
func (s *ResourceStore) Put(ctx context.Context, typ string, id int64, r resource.Resource) error {
	body, err := r.WithoutEmbedded().JSON()
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", typ, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (type, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, typ, id, string(body), s.clock.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put %s %d: %w", typ, id, err)
	}
	return nil
}

// Count returns the number of resources of a type.
func (s *ResourceStore) Count(ctx context.Context, typ string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resources WHERE type = ?`, typ,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", typ, err)
	}
	return n, nil
}

var _ ports.ResourceStore = (*ResourceStore)(nil)
