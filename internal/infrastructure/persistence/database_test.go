package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/collab/admin/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newSQLiteDatabase opens a migrated in-memory database
func newSQLiteDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDatabase_SQLite(t *testing.T) {
	db := newSQLiteDatabase(t)

	assert.Equal(t, "sqlite", db.Driver())
	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, 1, db.pool.Stats().MaxOpenConnections)

	tables := []string{"tenants", "accounts", "groups", "group_members", "resources", "mail_addresses", "mailboxes", "admin_audit"}
	for _, table := range tables {
		assert.True(t, db.DB.Migrator().HasTable(table), table)
	}
}

func TestNewDatabase_UnknownDriver(t *testing.T) {
	_, err := NewDatabase(&config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, `unsupported database driver "oracle"`)
}

func TestNewDatabase_TranslatesDuplicateKeys(t *testing.T) {
	db := newSQLiteDatabase(t)

	type tag struct {
		ID   int64
		Name string
	}
	require.NoError(t, db.DB.Exec("CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT UNIQUE)").Error)
	require.NoError(t, db.DB.Create(&tag{ID: 1, Name: "ops"}).Error)

	err := db.DB.Create(&tag{ID: 2, Name: "ops"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestDatabase_PingAndClose(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{})
	require.NoError(t, err)
	db := &Database{DB: gormDB, pool: conn, driver: "postgres"}

	mock.ExpectPing()
	mock.ExpectClose()

	assert.NoError(t, db.Ping(context.Background()))
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
