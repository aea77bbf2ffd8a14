// Package pgvector provides the PostgreSQL+pgvector vector store backend.
// This is the production backend: one table of embedding records with a
// composite unique key on (tenant_id, source_kind, source_id) and an ivfflat
// cosine index. Tenant scoping is baked into every query.
package pgvector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	pgvec "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tripmesh/contextengine/internal/vector"
	"github.com/tripmesh/contextengine/pkg/models"
)

// jsonMap stores string metadata as jsonb.
type jsonMap map[string]string

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *jsonMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
}

// embeddingRecord is the GORM model for the embedding_records table.
type embeddingRecord struct {
	ID           int64        `gorm:"primaryKey;autoIncrement"`
	TenantID     string       `gorm:"column:tenant_id;not null;uniqueIndex:idx_records_identity,priority:1;index:idx_records_tenant"`
	SourceKind   string       `gorm:"column:source_kind;not null;uniqueIndex:idx_records_identity,priority:2"`
	SourceID     string       `gorm:"column:source_id;not null;uniqueIndex:idx_records_identity,priority:3"`
	ContentHash  string       `gorm:"column:content_hash;not null"`
	Embedding    pgvec.Vector `gorm:"column:embedding"`
	ContentText  string       `gorm:"column:content_text;type:text"`
	Metadata     jsonMap      `gorm:"column:metadata;type:jsonb"`
	ModelVersion string       `gorm:"column:model_version;not null"`
	UpdatedAtMs  int64        `gorm:"column:updated_at_ms;not null"`
}

func (embeddingRecord) TableName() string { return "embedding_records" }

// Config holds configuration for the pgvector store.
type Config struct {
	DSN        string          // PostgreSQL DSN (required)
	Dimensions int             // embedding dimension, fixed by the provider (required)
	MaxConns   int             // connection pool size (default 10)
	LogLevel   logger.LogLevel // GORM log level (logger.Silent for production)
}

// Store implements vector.Store on PostgreSQL+pgvector.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
	dims  int
}

var _ vector.Store = (*Store)(nil)

// NewStore connects to PostgreSQL, configures the pool and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Dimensions)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(db, cfg.Dimensions); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, sqlDB: sqlDB, dims: cfg.Dimensions}, nil
}

// Upsert writes records with INSERT ... ON CONFLICT so vector and hash land
// in one atomic row write per record.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]embeddingRecord, 0, len(records))
	for _, rec := range records {
		if err := rec.Ref.Validate(); err != nil {
			return err
		}
		if len(rec.Vector) != s.dims {
			return fmt.Errorf("record %s has %d dims, store expects %d", rec.Ref, len(rec.Vector), s.dims)
		}
		rows = append(rows, embeddingRecord{
			TenantID:     rec.Ref.TenantID,
			SourceKind:   string(rec.Ref.Kind),
			SourceID:     rec.Ref.SourceID,
			ContentHash:  rec.ContentHash,
			Embedding:    pgvec.NewVector(rec.Vector),
			ContentText:  rec.Text,
			Metadata:     jsonMap(rec.Metadata),
			ModelVersion: rec.ModelVersion,
			UpdatedAtMs:  rec.UpdatedAt.UnixMilli(),
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "source_kind"}, {Name: "source_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"content_hash", "embedding", "content_text", "metadata",
				"model_version", "updated_at_ms",
			}),
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}

	log.Debug().Int("count", len(records)).Msg("Upserted records into pgvector")
	return nil
}

// DeleteBySource removes the record for one source identity.
func (s *Store) DeleteBySource(ctx context.Context, ref models.SourceRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND source_kind = ? AND source_id = ?",
			ref.TenantID, string(ref.Kind), ref.SourceID).
		Delete(&embeddingRecord{}).Error
}

// NearestNeighbors performs a cosine similarity search scoped to one tenant.
// pgvector's <=> operator is cosine distance; similarity = 1 - distance.
func (s *Store) NearestNeighbors(ctx context.Context, tenantID string, queryVec []float32, opts vector.SearchOptions) ([]vector.SearchResult, error) {
	if tenantID == "" {
		return nil, vector.ErrTenantRequired
	}
	if opts.K <= 0 {
		opts.K = 10
	}
	if len(queryVec) != s.dims {
		return nil, fmt.Errorf("query vector has %d dims, store expects %d", len(queryVec), s.dims)
	}

	args := []any{pgvec.NewVector(queryVec), tenantID}
	argIdx := 3

	var sb strings.Builder
	sb.WriteString(`
		SELECT source_kind, source_id, content_hash, content_text, metadata,
		       model_version, updated_at_ms, embedding <=> $1 AS distance
		FROM embedding_records
		WHERE tenant_id = $2`)

	if len(opts.Kinds) > 0 {
		placeholders := make([]string, len(opts.Kinds))
		for i, kind := range opts.Kinds {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, string(kind))
			argIdx++
		}
		sb.WriteString(" AND source_kind IN (" + strings.Join(placeholders, ",") + ")")
	}

	if opts.MinSimilarity > 0 {
		sb.WriteString(fmt.Sprintf(" AND embedding <=> $1 <= $%d", argIdx))
		args = append(args, 1-opts.MinSimilarity)
		argIdx++
	}

	sb.WriteString(fmt.Sprintf(" ORDER BY distance ASC, updated_at_ms DESC LIMIT $%d", argIdx))
	args = append(args, opts.K)

	rows, err := s.sqlDB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []vector.SearchResult
	for rows.Next() {
		var (
			sourceKind   string
			sourceID     string
			contentHash  string
			contentText  string
			metadata     jsonMap
			modelVersion string
			updatedAtMs  int64
			distance     float64
		)
		if err := rows.Scan(&sourceKind, &sourceID, &contentHash, &contentText,
			&metadata, &modelVersion, &updatedAtMs, &distance); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		results = append(results, vector.SearchResult{
			Ref: models.SourceRef{
				TenantID: tenantID,
				Kind:     models.SourceKind(sourceKind),
				SourceID: sourceID,
			},
			Similarity:  1 - distance,
			Text:        contentText,
			Metadata:    map[string]string(metadata),
			ContentHash: contentHash,
			UpdatedAt:   time.UnixMilli(updatedAtMs).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	vector.SortResults(results)
	return vector.FilterByThreshold(results, opts.MinSimilarity, opts.K), nil
}

// HashBySource returns the stored hash info for one source identity.
func (s *Store) HashBySource(ctx context.Context, ref models.SourceRef) (vector.HashInfo, bool, error) {
	if ref.TenantID == "" {
		return vector.HashInfo{}, false, vector.ErrTenantRequired
	}

	var row embeddingRecord
	err := s.db.WithContext(ctx).
		Select("content_hash", "model_version").
		Where("tenant_id = ? AND source_kind = ? AND source_id = ?",
			ref.TenantID, string(ref.Kind), ref.SourceID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return vector.HashInfo{}, false, nil
		}
		return vector.HashInfo{}, false, fmt.Errorf("lookup hash: %w", err)
	}
	return vector.HashInfo{ContentHash: row.ContentHash, ModelVersion: row.ModelVersion}, true, nil
}

// HashesForTenant returns hash info for every record of a tenant.
func (s *Store) HashesForTenant(ctx context.Context, tenantID string) (map[models.SourceRef]vector.HashInfo, error) {
	if tenantID == "" {
		return nil, vector.ErrTenantRequired
	}

	var rows []embeddingRecord
	err := s.db.WithContext(ctx).
		Select("source_kind", "source_id", "content_hash", "model_version").
		Where("tenant_id = ?", tenantID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list hashes: %w", err)
	}

	out := make(map[models.SourceRef]vector.HashInfo, len(rows))
	for _, row := range rows {
		ref := models.SourceRef{
			TenantID: tenantID,
			Kind:     models.SourceKind(row.SourceKind),
			SourceID: row.SourceID,
		}
		out[ref] = vector.HashInfo{ContentHash: row.ContentHash, ModelVersion: row.ModelVersion}
	}
	return out, nil
}

// CountForTenant returns the number of records stored for a tenant.
func (s *Store) CountForTenant(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, vector.ErrTenantRequired
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&embeddingRecord{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.sqlDB.Close() }
