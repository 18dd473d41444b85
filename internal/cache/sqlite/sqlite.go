// Package sqlite implements the cache.Store interface using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM
// driver, so a single file survives process restarts with no external service.
//
// WAL mode is enabled by default for concurrent reads; a put runs in one
// transaction so partially written entries are never visible.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantlab/quantagent/internal/cache"
)

// Config holds SQLite-specific cache settings.
type Config struct {
	Path        string // Database file path.
	MaxBytes    int64  // Total payload ceiling. 0 = cache.DefaultMaxBytes.
	JournalMode string // "wal" by default.
}

// EntryModel is the GORM model for one cache entry. Seq preserves insertion
// order for oldest-first eviction even when clocks tie.
type EntryModel struct {
	Seq      int64     `gorm:"primaryKey;autoIncrement"`
	Key      string    `gorm:"uniqueIndex;size:512;not null"`
	Payload  []byte    `gorm:"not null"`
	Bytes    int64     `gorm:"not null"`
	StoredAt time.Time `gorm:"index;not null"`
	ExpireAt time.Time `gorm:"index;not null"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (EntryModel) TableName() string { return "cache_entries" }

// Store implements cache.Store backed by a SQLite file.
type Store struct {
	db       *gorm.DB
	logger   *slog.Logger
	maxBytes int64
}

// Open creates (or reopens) a SQLite-backed cache store and migrates its schema.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite cache path is required")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite cache: %w", err)
	}
	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = cache.DefaultMaxBytes
	}

	slogger.Info("sqlite cache opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
		slog.Int64("max_bytes", maxBytes),
	)
	return &Store{db: db, logger: slogger, maxBytes: maxBytes}, nil
}

// Get returns the payload for key, or (nil, false) on miss, expiry, or any
// backend fault. Expired rows found here are deleted lazily.
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
		// Lazy removal; a failure here only delays the sweep.
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

// Put stores payload under key, replacing any prior entry, then evicts
// oldest-stored entries until the total fits the ceiling. The whole operation
// runs in one transaction: readers never observe a partial write.
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
		return s.evictLocked(tx, entry.Seq)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", cache.ErrStorage, err)
	}
	return nil
}

// evictLocked removes oldest-stored entries until the total payload size is
// within the ceiling. The just-inserted entry (keepSeq) is never evicted.
func (s *Store) evictLocked(tx *gorm.DB, keepSeq int64) error {
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
			return nil // only the new entry remains; oversize singletons are tolerated
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

// Sweep deletes all expired entries and reports how many rows were removed.
// Safe to run concurrently with reads and writes.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Delete(&EntryModel{}, "expire_at < ?", time.Now().UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", cache.ErrStorage, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Ping verifies the underlying database is reachable. Used by readiness checks.
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

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

var _ cache.Store = (*Store)(nil)
