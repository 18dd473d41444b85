// Package postgres implements the cache.Store interface on PostgreSQL using
// GORM. Intended for deployments where several service replicas share one
// cache; the single-file SQLite backend remains the default.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantlab/quantagent/internal/cache"
	"github.com/quantlab/quantagent/internal/cache/sqlite"
)

// Config configures the PostgreSQL connection and pool.
type Config struct {
	DSN             string
	MaxBytes        int64         // Total payload ceiling. 0 = cache.DefaultMaxBytes.
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
}

func (c Config) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c Config) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c Config) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

// EntryModel reuses the SQLite column layout; GORM's postgres dialect handles
// the SQL differences transparently.
type EntryModel = sqlite.EntryModel

// Store implements cache.Store backed by PostgreSQL.
type Store struct {
	db       *gorm.DB
	logger   *slog.Logger
	maxBytes int64
}

// Open validates the DSN, connects, configures the pool, and migrates the schema.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres cache DSN is required")
	}
	// Fail early on malformed DSNs instead of at first query.
	if _, err := pgx.ParseConfig(cfg.DSN); err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      gormLogger,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())

	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = cache.DefaultMaxBytes
	}

	slogger.Info("postgres cache opened", slog.Int64("max_bytes", maxBytes))
	return &Store{db: db, logger: slogger, maxBytes: maxBytes}, nil
}

// Get returns the payload for key, or (nil, false) on miss, expiry, or any
// backend fault.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	var entry EntryModel
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WarnContext(ctx, "cache read failed, treating as miss",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	if time.Now().UTC().After(entry.ExpireAt) {
		if err := s.db.WithContext(ctx).Delete(&EntryModel{}, "key = ?", key).Error; err != nil {
			s.logger.WarnContext(ctx, "expired entry removal failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return entry.Payload, true
}

// Put stores payload under key and evicts oldest-stored entries past the
// ceiling, in one transaction.
func (s *Store) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&EntryModel{}, "key = ?", key).Error; err != nil {
			return err
		}
		entry := EntryModel{
			Key:      key,
			Payload:  payload,
			Bytes:    int64(len(payload)),
			StoredAt: now,
			ExpireAt: now.Add(ttl),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return s.evict(tx, entry.Seq)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", cache.ErrStorage, err)
	}
	return nil
}

func (s *Store) evict(tx *gorm.DB, keepSeq int64) error {
	for {
		var total int64
		if err := tx.Model(&EntryModel{}).Select("COALESCE(SUM(bytes), 0)").Scan(&total).Error; err != nil {
			return err
		}
		if total <= s.maxBytes {
			return nil
		}
		var oldest EntryModel
		err := tx.Where("seq <> ?", keepSeq).Order("seq ASC").First(&oldest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&EntryModel{}, "seq = ?", oldest.Seq).Error; err != nil {
			return err
		}
	}
}

// Size returns the total payload bytes currently stored.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&EntryModel{}).Select("COALESCE(SUM(bytes), 0)").Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cache.ErrStorage, err)
	}
	return total, nil
}

// Sweep deletes all expired entries.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Delete(&EntryModel{}, "expire_at < ?", time.Now().UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", cache.ErrStorage, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

var _ cache.Store = (*Store)(nil)
