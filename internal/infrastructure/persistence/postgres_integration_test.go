//go:build integration

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const migrationsDir = "../../../migrations"

// newPostgresDB starts a disposable PostgreSQL and applies the migrations
func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("admin_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	m, err := migration.New(sqlDB, migrationsDir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up())
	t.Cleanup(func() {
		_ = m.Close()
	})
	return db
}

func TestPostgres_MigrationsMatchModels(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)

	tenants := NewGormTenantRepository(db)
	tn := &tenancy.Tenant{Name: "Example", AdminLogin: "root", LowercaseLogins: true, AuthEnabled: true}
	require.NoError(t, tenants.Create(ctx, tn))

	found, err := tenants.FindByName(ctx, "example")
	require.NoError(t, err)
	assert.Equal(t, tn.ID, found.ID)

	store := NewGormDirectoryStore(db)
	staff, err := store.Create(ctx, tn.ID, &directory.Group{Base: directory.Base{Name: "staff"}, MailAddress: "staff@example.com"})
	require.NoError(t, err)

	acctID, err := store.Create(ctx, tn.ID, &directory.Account{
		Base:         directory.Base{Name: "alice", Attributes: map[string]string{"team": "core"}},
		PrimaryEmail: "alice@example.com",
		Aliases:      []string{"ali@example.com"},
		GroupIDs:     []int64{staff},
		SecretHash:   "$2a$hash",
		LoginKey:     "alice",
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, tn.ID, directory.ByName(directory.KindAccount, "alice"))
	require.NoError(t, err)
	acct := got.(*directory.Account)
	assert.Equal(t, acctID, acct.ID)
	assert.Equal(t, []int64{staff}, acct.GroupIDs)
	assert.Equal(t, "core", acct.Attributes["team"])

	_, err = store.Create(ctx, tn.ID, &directory.Resource{Base: directory.Base{Name: "room"}, MailAddress: "ALICE@example.com"})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	owner, err := store.AddressOwner(ctx, tn.ID, "ali@example.com")
	require.NoError(t, err)
	assert.Equal(t, directory.ByID(directory.KindAccount, acctID), owner)

	require.NoError(t, store.Delete(ctx, tn.ID, directory.ByID(directory.KindGroup, staff)))
	groups, err := store.GroupsOf(ctx, tn.ID, acctID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestPostgres_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)
	tenants := NewGormTenantRepository(db)
	store := NewGormDirectoryStore(db)

	a := &tenancy.Tenant{Name: "alpha"}
	b := &tenancy.Tenant{Name: "beta"}
	require.NoError(t, tenants.Create(ctx, a))
	require.NoError(t, tenants.Create(ctx, b))

	_, err := store.Create(ctx, a.ID, &directory.Resource{Base: directory.Base{Name: "printer"}})
	require.NoError(t, err)
	_, err = store.Create(ctx, b.ID, &directory.Resource{Base: directory.Base{Name: "printer"}})
	require.NoError(t, err)

	exists, err := store.Exists(ctx, b.ID, directory.ByName(directory.KindResource, "printer"))
	require.NoError(t, err)
	assert.True(t, exists)

	items, total, err := store.List(ctx, a.ID, directory.KindResource, shared.DefaultFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, items, 1)
}
