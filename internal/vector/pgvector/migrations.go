package pgvector

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations applies schema migrations. The embedding dimension is fixed
// at table creation; changing the provider dimension requires a new table.
func runMigrations(db *gorm.DB, dims int) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},
		{
			ID: "002_embedding_records",
			Migrate: func(tx *gorm.DB) error {
				stmt := fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS embedding_records (
						id            BIGSERIAL PRIMARY KEY,
						tenant_id     TEXT NOT NULL,
						source_kind   TEXT NOT NULL,
						source_id     TEXT NOT NULL,
						content_hash  TEXT NOT NULL,
						embedding     vector(%d) NOT NULL,
						content_text  TEXT NOT NULL DEFAULT '',
						metadata      JSONB,
						model_version TEXT NOT NULL DEFAULT '',
						updated_at_ms BIGINT NOT NULL,
						CONSTRAINT idx_records_identity UNIQUE (tenant_id, source_kind, source_id)
					)`, dims)
				return tx.Exec(stmt).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP TABLE IF EXISTS embedding_records").Error
			},
		},
		{
			ID: "003_tenant_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					"CREATE INDEX IF NOT EXISTS idx_records_tenant ON embedding_records (tenant_id)",
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_records_tenant").Error
			},
		},
		{
			// ivfflat trades exactness for speed; the engine re-sorts and
			// re-filters results after retrieval so approximate order is fine.
			ID: "004_cosine_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`
					CREATE INDEX IF NOT EXISTS idx_records_embedding
					ON embedding_records
					USING ivfflat (embedding vector_cosine_ops)
					WITH (lists = 100)`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_records_embedding").Error
			},
		},
	})

	return m.Migrate()
}
