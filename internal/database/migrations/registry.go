package migrations

import (
	"gorm.io/gorm"

	"github.com/biliarchive/biliarchive/internal/database"
	"github.com/biliarchive/biliarchive/internal/models"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002WriteLock(),
	}
}

// migration001Schema creates all domain tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create sources, videos, and pages tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Source{},
				&models.Video{},
				&models.Page{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{"pages", "videos", "sources"}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002WriteLock creates the `_write_lock` sentinel table used by
// the serialized-writer protocol.
func migration002WriteLock() Migration {
	return Migration{
		Version:     "002",
		Description: "Create _write_lock sentinel table",
		Up: func(tx *gorm.DB) error {
			return database.EnsureWriteLock(tx)
		},
		Down: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable("_write_lock") {
				return tx.Migrator().DropTable("_write_lock")
			}
			return nil
		},
	}
}
