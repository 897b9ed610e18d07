package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestAllMigrations_ApplyAndRollback(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	ctx := context.Background()
	require.NoError(t, migrator.Up(ctx))

	require.True(t, db.Migrator().HasTable("stream_configs"))
	require.True(t, db.Migrator().HasTable("recording_rows"))
	require.True(t, db.Migrator().HasTable("detection_labels"))

	require.NoError(t, migrator.Down(ctx))
	require.False(t, db.Migrator().HasTable("stream_configs"))
}

func TestAllMigrations_Status(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	ctx := context.Background()
	require.NoError(t, migrator.Up(ctx))

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.True(t, statuses[0].Applied)
}
