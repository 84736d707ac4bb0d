// Package catalog records file manifests in a SQL database so ingested
// artifacts can be queried across runs.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// FileRecord is the stored form of a manifest. A file is identified by
// its path and content hash, so re-ingesting an unchanged file is a no-op.
type FileRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	Filepath       string    `gorm:"type:varchar(1024);not null;uniqueIndex:idx_file_hash"`
	Hash           string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_file_hash"`
	HashType       string    `gorm:"type:varchar(16);not null"`
	Filename       string    `gorm:"type:varchar(255);not null"`
	Source         string    `gorm:"type:varchar(255)"`
	Description    string    `gorm:"type:text"`
	DataType       string    `gorm:"type:varchar(32);index"`
	SizeBytes      int64
	FileCreatedAt  time.Time
	FileModifiedAt time.Time
	IngestedAt     time.Time
	Extra          string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the gorm table name.
func (FileRecord) TableName() string { return "file_manifests" }

// Store writes manifests through gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to dsn and migrates the schema. A postgres:// URL or a
// key=value DSN containing host= selects Postgres; anything else is
// treated as a SQLite path or URI.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: gormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("connect catalog: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&FileRecord{}); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

func gormLogger(l *slog.Logger) logger.Interface {
	return logger.New(slog.NewLogLogger(l.Handler(), slog.LevelDebug), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Name identifies the catalog in sink metrics and warnings.
func (s *Store) Name() string { return "catalog" }

// Publish inserts the manifests, skipping any (filepath, hash) pair that
// is already recorded.
func (s *Store) Publish(ctx context.Context, manifests []domain.Manifest) error {
	if len(manifests) == 0 {
		return nil
	}
	records := make([]FileRecord, 0, len(manifests))
	for _, m := range manifests {
		r, err := toRecord(m)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "filepath"}, {Name: "hash"}},
			DoNothing: true,
		}).
		Create(&records)
	if res.Error != nil {
		return fmt.Errorf("insert %d manifests: %w", len(records), res.Error)
	}
	s.logger.Debug("manifests cataloged", "count", len(records), "inserted", res.RowsAffected)
	return nil
}

// List returns recorded manifests, newest ingestion first. An empty
// dataType matches every type.
func (s *Store) List(ctx context.Context, dataType string) ([]domain.Manifest, error) {
	q := s.db.WithContext(ctx).Order("ingested_at DESC, filepath")
	if dataType != "" {
		q = q.Where("data_type = ?", dataType)
	}
	var records []FileRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	out := make([]domain.Manifest, 0, len(records))
	for _, r := range records {
		m, err := r.manifest()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(m domain.Manifest) (FileRecord, error) {
	var extra string
	if len(m.Extra) > 0 {
		b, err := json.Marshal(m.Extra)
		if err != nil {
			return FileRecord{}, fmt.Errorf("encode extra fields of %s: %w", m.Filepath, err)
		}
		extra = string(b)
	}
	return FileRecord{
		ID:             uuid.New(),
		Filepath:       m.Filepath,
		Hash:           m.Hash,
		HashType:       m.HashType,
		Filename:       m.Filename,
		Source:         m.Source,
		Description:    m.Description,
		DataType:       m.DataType,
		SizeBytes:      m.SizeBytes,
		FileCreatedAt:  m.CreatedAt.UTC(),
		FileModifiedAt: m.ModifiedAt.UTC(),
		IngestedAt:     m.IngestedAt.UTC(),
		Extra:          extra,
	}, nil
}

func (r FileRecord) manifest() (domain.Manifest, error) {
	m := domain.Manifest{
		Filename:    r.Filename,
		Filepath:    r.Filepath,
		Source:      r.Source,
		Description: r.Description,
		DataType:    r.DataType,
		SizeBytes:   r.SizeBytes,
		CreatedAt:   r.FileCreatedAt.UTC(),
		ModifiedAt:  r.FileModifiedAt.UTC(),
		IngestedAt:  r.IngestedAt.UTC(),
		HashType:    r.HashType,
		Hash:        r.Hash,
	}
	if r.Extra != "" {
		if err := json.Unmarshal([]byte(r.Extra), &m.Extra); err != nil {
			return domain.Manifest{}, fmt.Errorf("decode extra fields of %s: %w", r.Filepath, err)
		}
	}
	return m, nil
}
