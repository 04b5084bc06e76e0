package repository

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/liftmate/liftmate/internal/datastore/entities"
	"github.com/liftmate/liftmate/internal/offline"
)

// setupCacheTestDB creates an in-memory SQLite database for cache tests.
// Uses shared-cache mode with a single connection to ensure all operations
// see the same in-memory database.
func setupCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_foreign_keys=ON"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(&entities.CacheNamespace{}, &entities.CacheEntry{})
	require.NoError(t, err, "failed to migrate cache tables")
	return db
}

func testResponse(body string) *offline.Response {
	return &offline.Response{
		URL:        "https://app.example/" + body,
		Status:     http.StatusOK,
		StatusText: "OK",
		Header: http.Header{
			"Content-Type": {"text/css; charset=utf-8"},
			"Vary":         {"Accept", "Accept-Encoding"},
		},
		Body: []byte(body),
		Type: offline.TypeBasic,
	}
}

func TestCacheRepository_PutAndMatch(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	_, ok, err := repo.Match(ctx, "liftmate-v1", "https://app.example/css/styles.css")
	require.NoError(t, err)
	assert.False(t, ok, "missing namespace is a miss")

	want := testResponse("styles")
	require.NoError(t, repo.Put(ctx, "liftmate-v1", "https://app.example/css/styles.css", want))

	got, ok, err := repo.Match(ctx, "liftmate-v1", "https://app.example/css/styles.css")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.URL, got.URL)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.StatusText, got.StatusText)
	assert.Equal(t, want.Header, got.Header)
	assert.Equal(t, want.Body, got.Body)
	assert.Equal(t, offline.TypeBasic, got.Type)

	_, ok, err = repo.Match(ctx, "liftmate-v1", "https://app.example/other.css")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRepository_PutReplacesEntry(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()
	key := "https://app.example/js/app.js"

	require.NoError(t, repo.Put(ctx, "liftmate-v1", key, testResponse("old")))
	require.NoError(t, repo.Put(ctx, "liftmate-v1", key, testResponse("new")))

	got, ok, err := repo.Match(ctx, "liftmate-v1", key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(got.Body))

	count, err := repo.CountEntries(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCacheRepository_PutAllIsIdempotent(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	entries := []offline.Entry{
		{Key: "https://app.example/js/app.js", Response: testResponse("app")},
		{Key: "https://app.example/", Response: testResponse("root")},
		{Key: "https://app.example/index.html", Response: testResponse("index")},
	}
	require.NoError(t, repo.PutAll(ctx, "liftmate-v1", entries))
	require.NoError(t, repo.PutAll(ctx, "liftmate-v1", entries))

	keys, err := repo.Keys(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://app.example/",
		"https://app.example/index.html",
		"https://app.example/js/app.js",
	}, keys)

	names, err := repo.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v1"}, names)
}

func TestCacheRepository_PutAllLargeManifest(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	entries := make([]offline.Entry, 0, 250)
	for i := range 250 {
		entries = append(entries, offline.Entry{
			Key:      fmt.Sprintf("https://app.example/img/%03d.png", i),
			Response: testResponse(fmt.Sprintf("img-%d", i)),
		})
	}
	require.NoError(t, repo.PutAll(ctx, "liftmate-v1", entries))

	count, err := repo.CountEntries(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)
}

func TestCacheRepository_PutAllRollsBack(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheRepository(db)
	ctx := t.Context()

	require.NoError(t, repo.Put(ctx, "liftmate-v1", "https://app.example/", testResponse("root")))

	// Fail every entry insert after the namespace row has been written.
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_entries", func(tx *gorm.DB) {
		if tx.Statement.Table == "cache_entries" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)

	err = repo.PutAll(ctx, "liftmate-v2", []offline.Entry{
		{Key: "https://app.example/", Response: testResponse("root")},
		{Key: "https://app.example/index.html", Response: testResponse("index")},
	})
	require.Error(t, err)

	names, err := repo.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v1"}, names, "failed batch must not leave its namespace behind")
}

func TestCacheRepository_DeleteNamespace(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheRepository(db)
	ctx := t.Context()

	for _, ns := range []string{"liftmate-v2", "liftmate-v1", "liftmate-v3"} {
		require.NoError(t, repo.Put(ctx, ns, "https://app.example/", testResponse(ns)))
	}

	names, err := repo.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v2", "liftmate-v1", "liftmate-v3"}, names, "creation order")

	existed, err := repo.DeleteNamespace(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.DeleteNamespace(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.False(t, existed)

	names, err = repo.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v2", "liftmate-v3"}, names)

	var orphans int64
	require.NoError(t, db.Model(&entities.CacheEntry{}).Count(&orphans).Error)
	assert.Equal(t, int64(2), orphans, "entries of the deleted namespace are removed")

	_, err = repo.GetNamespace(ctx, "liftmate-v1")
	require.ErrorIs(t, err, ErrNamespaceNotFound)
	_, err = repo.CountEntries(ctx, "liftmate-v1")
	require.ErrorIs(t, err, ErrNamespaceNotFound)
}

func TestCacheRepository_KeysOfMissingNamespace(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))

	keys, err := repo.Keys(t.Context(), "missing")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCacheRepository_OpaqueResponse(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()
	key := "https://cdn.example/pixel.gif"

	require.NoError(t, repo.Put(ctx, "liftmate-v1", key, &offline.Response{URL: key, Type: offline.TypeOpaque}))

	got, ok, err := repo.Match(ctx, "liftmate-v1", key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, got.Status)
	assert.Equal(t, offline.TypeOpaque, got.Type)
	assert.Empty(t, got.Header)
	assert.Empty(t, got.Body)
}

func TestHashKey(t *testing.T) {
	t.Parallel()
	a := hashKey("https://app.example/")
	assert.Len(t, a, 64)
	assert.Equal(t, a, hashKey("https://app.example/"))
	assert.NotEqual(t, a, hashKey("https://app.example/index.html"))
	assert.Equal(t, strings.ToLower(a), a)
}
