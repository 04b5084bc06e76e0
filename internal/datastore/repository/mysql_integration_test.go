//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/liftmate/liftmate/internal/datastore/entities"
	"github.com/liftmate/liftmate/internal/datastore/repository"
	"github.com/liftmate/liftmate/internal/offline"
	"github.com/liftmate/liftmate/internal/testutil/containers"
)

// MySQL container shared across all tests in this package.
var (
	mysqlContainer *containers.MySQLContainer
	testDB         *gorm.DB
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	mysqlContainer, err = containers.NewMySQLContainer(ctx, nil)
	if err != nil {
		panic("failed to create MySQL container: " + err.Error())
	}

	testDB, err = gorm.Open(mysql.Open(mysqlContainer.DSN()), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err == nil {
		err = testDB.AutoMigrate(&entities.CacheNamespace{}, &entities.CacheEntry{})
	}
	if err != nil {
		_ = mysqlContainer.Terminate(ctx)
		panic("failed to prepare database: " + err.Error())
	}

	code := m.Run()

	if err := mysqlContainer.Terminate(ctx); err != nil {
		panic("failed to terminate MySQL container: " + err.Error())
	}
	os.Exit(code)
}

func resetDatabase(t *testing.T) repository.CacheRepository {
	t.Helper()
	require.NoError(t, mysqlContainer.Reset(t.Context(), "cache_entries", "cache_namespaces"))
	return repository.NewCacheRepository(testDB)
}

func mysqlResponse(body string) *offline.Response {
	return &offline.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/javascript"}},
		Body:   []byte(body),
		Type:   offline.TypeBasic,
	}
}

func TestMySQL_InstallAndUpgrade(t *testing.T) {
	repo := resetDatabase(t)
	ctx := t.Context()

	manifest := []offline.Entry{
		{Key: "https://app.example/", Response: mysqlResponse("root")},
		{Key: "https://app.example/js/app.js", Response: mysqlResponse("app")},
	}
	require.NoError(t, repo.PutAll(ctx, "liftmate-v1", manifest))
	require.NoError(t, repo.PutAll(ctx, "liftmate-v1", manifest))
	require.NoError(t, repo.PutAll(ctx, "liftmate-v2", manifest))

	names, err := repo.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v1", "liftmate-v2"}, names)

	count, err := repo.CountEntries(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	existed, err := repo.DeleteNamespace(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.True(t, existed)

	got, ok, err := repo.Match(ctx, "liftmate-v2", "https://app.example/js/app.js")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "app", string(got.Body))
	assert.Equal(t, "text/javascript", got.Header.Get("Content-Type"))
}

func TestMySQL_LongURLKeys(t *testing.T) {
	repo := resetDatabase(t)
	ctx := t.Context()

	key := "https://app.example/api/history?range=" + fmt.Sprintf("%01000d", 7)
	require.NoError(t, repo.Put(ctx, "liftmate-v1", key, mysqlResponse("long")))

	_, ok, err := repo.Match(ctx, "liftmate-v1", key)
	require.NoError(t, err)
	assert.True(t, ok, "keys longer than an index prefix are matched by hash")
}

func TestMySQL_ConcurrentPuts(t *testing.T) {
	repo := resetDatabase(t)
	ctx := t.Context()

	require.NoError(t, repo.Put(ctx, "liftmate-v1", "https://app.example/", mysqlResponse("root")))

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("https://app.example/img/%02d.png", i)
			assert.NoError(t, repo.Put(ctx, "liftmate-v1", key, mysqlResponse(key)))
		}()
	}
	wg.Wait()

	keys, err := repo.Keys(ctx, "liftmate-v1")
	require.NoError(t, err)
	assert.Len(t, keys, 17)
}
