package migration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- test"), 0o644))
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"add mailboxes table":   "add_mailboxes_table",
		"Add-Mailboxes-Table":   "add_mailboxes_table",
		"add__mailboxes__table": "add_mailboxes_table",
		"  Group members 2 ":    "group_members_2",
		"special!@#chars":       "special_chars",
		"Größe":                 "gr_e",
		"":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, slugify(in), in)
	}
}

func TestCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	pair, err := Create(dir, "Add mailbox quota", "Quota column on mailboxes", now)
	require.NoError(t, err)

	assert.Equal(t, uint(20260302093000), pair.Version)
	assert.Equal(t, "add_mailbox_quota", pair.Name)
	assert.Equal(t, filepath.Join(dir, "20260302093000_add_mailbox_quota.up.sql"), pair.UpPath)
	assert.Equal(t, filepath.Join(dir, "20260302093000_add_mailbox_quota.down.sql"), pair.DownPath)

	up, err := os.ReadFile(pair.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "-- Migration: Add mailbox quota\n")
	assert.Contains(t, string(up), "Quota column on mailboxes")
	assert.Contains(t, string(up), "tenant_id BIGINT NOT NULL")

	down, err := os.ReadFile(pair.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "(rollback)")
	assert.NotContains(t, string(down), "tenant_id")

	files, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []File{pair.File}, files)
}

func TestCreate_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	_, err := Create(dir, "audit", "", now)
	require.NoError(t, err)
	_, err = Create(dir, "audit", "", now)
	assert.Error(t, err)
}

func TestCreate_RejectsEmptyName(t *testing.T) {
	_, err := Create(t.TempDir(), "!!", "", time.Now())
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"20260301120100_extension_tables.up.sql",
		"20260301120100_extension_tables.down.sql",
		"20260301120000_create_directory.up.sql",
		"20260301120000_create_directory.down.sql",
		"README.md",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "20260101000000_dir.up.sql"), 0o755))

	files, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []File{
		{Version: 20260301120000, Name: "create_directory"},
		{Version: 20260301120100, Name: "extension_tables"},
	}, files)
	assert.Equal(t, "20260301120000_create_directory", files[0].Base())
}

func TestList_MissingDirectory(t *testing.T) {
	files, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"20260101000000_init.up.sql",
		"20260101000000_init.down.sql",
		"20260301120000_mailboxes.up.sql",
		"20260201000000_audit.up.sql",
	)

	latest, err := LatestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, uint(20260301120000), latest)
}

func TestLatestVersion_Empty(t *testing.T) {
	latest, err := LatestVersion(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestLatestVersion_RejectsUnversionedFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "init.up.sql")

	_, err := LatestVersion(dir)
	assert.Error(t, err)
}

func TestShippedMigrationsAreVersioned(t *testing.T) {
	latest, err := LatestVersion("../../../migrations")
	require.NoError(t, err)
	assert.NotZero(t, latest)
}
