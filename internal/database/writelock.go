package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// writeLockRow backs the `_write_lock` sentinel table. A single row (id=1)
// is updated inside every write transaction so that SQLite's own
// serialization of writers is exercised deliberately rather than relying
// purely on busy_timeout: the UPDATE always touches the same row, so two
// concurrent writers reliably contend on it instead of racing on
// independently-locked pages.
type writeLockRow struct {
	ID      uint  `gorm:"primaryKey"`
	Counter int64 `gorm:"not null"`
}

func (writeLockRow) TableName() string { return "_write_lock" }

// EnsureWriteLock creates and seeds the `_write_lock` sentinel table if it
// does not already exist. Safe to call repeatedly.
func EnsureWriteLock(db *gorm.DB) error {
	if err := db.AutoMigrate(&writeLockRow{}); err != nil {
		return fmt.Errorf("migrating write lock table: %w", err)
	}
	return db.FirstOrCreate(&writeLockRow{ID: 1}, writeLockRow{ID: 1}).Error
}

// WithWriteLock runs fn inside a transaction that first bumps the
// `_write_lock` sentinel row, ensuring fn observes the serialized-writer
// protocol described for persistence (spec C8): any other in-flight
// WithWriteLock call blocks on the same row until this transaction commits
// or rolls back.
func WithWriteLock(ctx context.Context, db *DB, fn func(tx *gorm.DB) error) error {
	return db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE _write_lock SET counter = counter + 1 WHERE id = 1").Error; err != nil {
			return fmt.Errorf("acquiring write lock: %w", err)
		}
		return fn(tx)
	})
}

// WaitForWriteLock polls until the `_write_lock` row's counter advances
// past since, or ctx is done. Used by tests that need to observe that a
// concurrent writer actually ran.
func WaitForWriteLock(ctx context.Context, db *DB, since int64) (int64, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		var row writeLockRow
		if err := db.WithContext(ctx).First(&row, 1).Error; err != nil {
			return 0, err
		}
		if row.Counter > since {
			return row.Counter, nil
		}
		select {
		case <-ctx.Done():
			return row.Counter, ctx.Err()
		case <-ticker.C:
		}
	}
}
