package migrations

import (
	"github.com/lightnvr/lightnvr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create stream_configs, recording_rows, detection_labels",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.StreamConfig{},
				&models.RecordingRow{},
				&models.DetectionLabel{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"detection_labels",
				"recording_rows",
				"stream_configs",
			}
			for _, table := range tables {
				if err := tx.Migrator().DropTable(table); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
