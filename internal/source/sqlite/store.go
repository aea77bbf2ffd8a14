// Package sqlite reads the application's mirrored source items from a local
// SQLite database. The app writes one row per item into a generic
// source_items table; the engine reads and projects, and deletions are
// tombstoned so change polling can observe them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/tripmesh/contextengine/internal/source"
	"github.com/tripmesh/contextengine/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS source_items (
	tenant_id     TEXT NOT NULL,
	kind          TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	payload       TEXT NOT NULL DEFAULT '{}',
	updated_at_ms INTEGER NOT NULL,
	deleted       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, kind, source_id)
);
CREATE INDEX IF NOT EXISTS idx_source_items_updated ON source_items(updated_at_ms);
CREATE INDEX IF NOT EXISTS idx_source_items_tenant ON source_items(tenant_id);
`

// Store implements source.Reader on SQLite. It also carries the write side
// used by the app's mirror writer and the test suite.
type Store struct {
	db *sql.DB
}

var _ source.Reader = (*Store)(nil)

// Open opens (and creates if needed) the source mirror database.
// Pass ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY
	// on the in-memory path where every connection is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Put writes or replaces one source item's mirror row.
func (s *Store) Put(ctx context.Context, item *models.SourceItem) error {
	if err := item.Ref.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(item.Fields)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_items (tenant_id, kind, source_id, payload, updated_at_ms, deleted)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(tenant_id, kind, source_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at_ms = excluded.updated_at_ms,
			deleted = 0`,
		item.Ref.TenantID, string(item.Ref.Kind), item.Ref.SourceID,
		string(payload), item.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put source item: %w", err)
	}
	return nil
}

// MarkDeleted tombstones one source item so change polling observes the
// deletion. The row stays until the app compacts the mirror.
func (s *Store) MarkDeleted(ctx context.Context, ref models.SourceRef, at time.Time) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE source_items SET deleted = 1, updated_at_ms = ?
		WHERE tenant_id = ? AND kind = ? AND source_id = ?`,
		at.UnixMilli(), ref.TenantID, string(ref.Kind), ref.SourceID)
	if err != nil {
		return fmt.Errorf("tombstone source item: %w", err)
	}
	return nil
}

// Get returns the live source item, or source.ErrNotFound for missing or
// tombstoned rows.
func (s *Store) Get(ctx context.Context, ref models.SourceRef) (*models.SourceItem, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var (
		payload     string
		updatedAtMs int64
		deleted     int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, updated_at_ms, deleted FROM source_items
		WHERE tenant_id = ? AND kind = ? AND source_id = ?`,
		ref.TenantID, string(ref.Kind), ref.SourceID).
		Scan(&payload, &updatedAtMs, &deleted)
	if err == sql.ErrNoRows {
		return nil, source.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source item: %w", err)
	}
	if deleted != 0 {
		return nil, source.ErrNotFound
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", ref, err)
	}
	return &models.SourceItem{
		Ref:       ref,
		Fields:    fields,
		UpdatedAt: time.UnixMilli(updatedAtMs).UTC(),
	}, nil
}

// ListRefs returns the refs of all live items for a tenant.
func (s *Store) ListRefs(ctx context.Context, tenantID string) ([]models.SourceRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, source_id FROM source_items
		WHERE tenant_id = ? AND deleted = 0
		ORDER BY kind, source_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer rows.Close()

	var refs []models.SourceRef
	for rows.Next() {
		var kind, sourceID string
		if err := rows.Scan(&kind, &sourceID); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		refs = append(refs, models.SourceRef{
			TenantID: tenantID,
			Kind:     models.SourceKind(kind),
			SourceID: sourceID,
		})
	}
	return refs, rows.Err()
}

// ListTenants returns every tenant id present in the mirror, tombstones
// included.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM source_items ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// ChangedSince returns items changed strictly after the cursor and the new
// cursor (the max updated_at_ms seen, or the old cursor if nothing changed).
func (s *Store) ChangedSince(ctx context.Context, cursorMs int64) ([]source.Change, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, kind, source_id, updated_at_ms, deleted FROM source_items
		WHERE updated_at_ms > ?
		ORDER BY updated_at_ms ASC`, cursorMs)
	if err != nil {
		return nil, cursorMs, fmt.Errorf("poll changes: %w", err)
	}
	defer rows.Close()

	var changes []source.Change
	newCursor := cursorMs
	for rows.Next() {
		var (
			tenant, kind, sourceID string
			updatedAtMs            int64
			deleted                int
		)
		if err := rows.Scan(&tenant, &kind, &sourceID, &updatedAtMs, &deleted); err != nil {
			return nil, cursorMs, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, source.Change{
			Ref: models.SourceRef{
				TenantID: tenant,
				Kind:     models.SourceKind(kind),
				SourceID: sourceID,
			},
			Deleted: deleted != 0,
		})
		if updatedAtMs > newCursor {
			newCursor = updatedAtMs
		}
	}
	return changes, newCursor, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
