package offline_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/offline"
	"github.com/liftmate/liftmate/internal/offline/memstore"
)

func TestWorker_InstallCachesManifest(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	w := newTestWorker(t, "liftmate-v1", store, network)

	require.NoError(t, w.Install(t.Context()))

	assert.Equal(t, offline.StateInstalled, w.State())
	assert.True(t, w.SkipWaitingRequested())

	network.setDown(true)
	for _, key := range w.Manifest().URLs {
		resp, ok, err := store.Match(t.Context(), "liftmate-v1", key)
		require.NoError(t, err)
		require.True(t, ok, "manifest entry %s should be cached", key)
		assert.Equal(t, http.StatusOK, resp.Status)
	}
}

func TestWorker_InstallIsIdempotent(t *testing.T) {
	store := memstore.New()
	w := newTestWorker(t, "liftmate-v1", store, newFakeNetwork())

	require.NoError(t, w.Install(t.Context()))
	require.NoError(t, w.Install(t.Context()))

	names, err := store.ListNamespaces(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v1"}, names)

	keys, err := store.Keys(t.Context(), "liftmate-v1")
	require.NoError(t, err)
	assert.ElementsMatch(t, w.Manifest().URLs, keys)
}

func TestWorker_InstallFailsAtomically(t *testing.T) {
	tests := []struct {
		name  string
		setup func(n *fakeNetwork)
	}{
		{
			name:  "unreachable asset",
			setup: func(n *fakeNetwork) { n.fail(testScope+"js/app.js", errOffline) },
		},
		{
			name:  "missing asset",
			setup: func(n *fakeNetwork) { n.serve(testScope+"css/styles.css", http.StatusNotFound, offline.TypeBasic, "") },
		},
		{
			name:  "external library down",
			setup: func(n *fakeNetwork) { n.fail("https://cdn.example/chart.js", errOffline) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			network := newFakeNetwork()
			tt.setup(network)
			w := newTestWorker(t, "liftmate-v1", store, network)

			err := w.Install(t.Context())
			require.Error(t, err)
			assert.ErrorIs(t, err, offline.ErrManifestFetch)
			assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
			assert.Equal(t, offline.StateRedundant, w.State())

			names, err := store.ListNamespaces(t.Context())
			require.NoError(t, err)
			assert.Empty(t, names, "a failed install must not leave a partial namespace")
		})
	}
}

func TestWorker_InstallTimeout(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	network.setBlock(true)

	w, err := offline.NewWorker(offline.Config{
		Version:        "liftmate-v1",
		Scope:          testScope,
		Manifest:       testManifest,
		InstallTimeout: 20 * time.Millisecond,
	}, store, network, offline.WithLogger(testLogger()))
	require.NoError(t, err)

	err = w.Install(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, offline.StateRedundant, w.State())
}

func TestWorker_InstallHonoursCallerContext(t *testing.T) {
	network := newFakeNetwork()
	network.setBlock(true)
	w := newTestWorker(t, "liftmate-v1", memstore.New(), network)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := w.Install(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorker_ActivateLeavesSingleNamespace(t *testing.T) {
	store := memstore.New()
	ctx := t.Context()
	stale := offline.Entry{Key: testScope, Response: &offline.Response{Status: http.StatusOK, Type: offline.TypeBasic}}
	require.NoError(t, store.PutAll(ctx, "liftmate-v0", []offline.Entry{stale}))
	require.NoError(t, store.PutAll(ctx, "other-app", []offline.Entry{stale}))

	w := installed(t, "liftmate-v1", store, newFakeNetwork())
	require.NoError(t, w.Activate(ctx))

	assert.Equal(t, offline.StateActivated, w.State())
	names, err := store.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v1"}, names)
}

func TestWorker_VersionUpgradeDeletesPreviousNamespace(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	ctx := t.Context()

	v1 := installed(t, "liftmate-v1", store, network)
	require.NoError(t, v1.Activate(ctx))

	v2 := installed(t, "liftmate-v2", store, network)
	names, err := store.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v1", "liftmate-v2"}, names, "old namespace survives until activation")

	require.NoError(t, v2.Activate(ctx))
	names, err = store.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v2"}, names)
}

func TestWorker_ActivateRequiresInstall(t *testing.T) {
	w := newTestWorker(t, "liftmate-v1", memstore.New(), newFakeNetwork())

	err := w.Activate(t.Context())
	require.ErrorIs(t, err, offline.ErrInvalidState)
	assert.Equal(t, offline.StateParsed, w.State())
}

// failingDeleteStore fails DeleteNamespace for one namespace.
type failingDeleteStore struct {
	*memstore.Store
	failFor string
}

func (s *failingDeleteStore) DeleteNamespace(ctx context.Context, name string) (bool, error) {
	if name == s.failFor {
		return false, errors.NewStd("disk I/O error")
	}
	return s.Store.DeleteNamespace(ctx, name)
}

func TestWorker_ActivateDeletionFailureIsNonFatal(t *testing.T) {
	ctx := t.Context()
	store := &failingDeleteStore{Store: memstore.New(), failFor: "liftmate-v0"}
	resp := &offline.Response{Status: http.StatusOK, Type: offline.TypeBasic}
	require.NoError(t, store.Put(ctx, "liftmate-v0", testScope, resp))
	require.NoError(t, store.Put(ctx, "liftmate-old", testScope, resp))

	w := newTestWorker(t, "liftmate-v1", store, newFakeNetwork())
	require.NoError(t, w.Install(ctx))
	require.NoError(t, w.Activate(ctx))

	assert.Equal(t, offline.StateActivated, w.State())
	names, err := store.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"liftmate-v0", "liftmate-v1"}, names, "undeletable namespace stays until the next activation")
}

func TestWorker_FetchCacheHitSkipsNetwork(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	rec := newCountingRecorder()
	w := installed(t, "liftmate-v1", store, network, offline.WithRecorder(rec))

	stored, ok, err := store.Match(t.Context(), "liftmate-v1", testScope+"js/app.js")
	require.NoError(t, err)
	require.True(t, ok)
	before := network.totalCalls()

	resp, err := w.Fetch(t.Context(), offline.NewRequest(testScope+"js/app.js#main", offline.ModeSameOrigin))
	require.NoError(t, err)

	assert.Equal(t, before, network.totalCalls(), "cache hit must not touch the network")
	assert.Equal(t, stored.Body, resp.Body)
	assert.Equal(t, stored.Header, resp.Header)
	assert.Equal(t, stored.Status, resp.Status)
	assert.Equal(t, 1, rec.fetches(offline.OutcomeHit))
}

func TestWorker_FetchMissPopulatesCache(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	rec := newCountingRecorder()
	w := installed(t, "liftmate-v1", store, network, offline.WithRecorder(rec))

	url := testScope + "img/logo.png"
	network.serve(url, http.StatusOK, offline.TypeBasic, "png-bytes")

	resp, err := w.Fetch(t.Context(), offline.NewRequest(url, offline.ModeSameOrigin))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(resp.Body))

	w.Flush()

	cached, ok, err := store.Match(t.Context(), "liftmate-v1", url)
	require.NoError(t, err)
	require.True(t, ok, "successful same-origin response should be cached")
	assert.Equal(t, resp.Body, cached.Body)
	assert.Equal(t, 1, rec.fetches(offline.OutcomeMiss))
	assert.Equal(t, 1, rec.cacheWrites(offline.WriteStored))

	// Second request is served from the cache.
	before := network.totalCalls()
	_, err = w.Fetch(t.Context(), offline.NewRequest(url, offline.ModeSameOrigin))
	require.NoError(t, err)
	assert.Equal(t, before, network.totalCalls())
}

func TestWorker_FetchCachedWriteOutlivesRequestContext(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	w := installed(t, "liftmate-v1", store, network)

	url := testScope + "js/extra.js"
	network.serve(url, http.StatusOK, offline.TypeBasic, "extra")

	ctx, cancel := context.WithCancel(t.Context())
	_, err := w.Fetch(ctx, offline.NewRequest(url, offline.ModeSameOrigin))
	require.NoError(t, err)
	cancel()
	w.Flush()

	_, ok, err := store.Match(t.Context(), "liftmate-v1", url)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorker_FetchDoesNotStoreUncacheableResponses(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		status int
		typ    offline.ResponseType
	}{
		{"not found", testScope + "missing.js", http.StatusNotFound, offline.TypeBasic},
		{"server error", testScope + "api/broken", http.StatusInternalServerError, offline.TypeBasic},
		{"partial content", testScope + "video.mp4", http.StatusPartialContent, offline.TypeBasic},
		{"cross-origin cors", "https://cdn.example/font.woff2", http.StatusOK, offline.TypeCORS},
		{"cross-origin opaque", "https://tracker.example/pixel.gif", 0, offline.TypeOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			network := newFakeNetwork()
			rec := newCountingRecorder()
			w := installed(t, "liftmate-v1", store, network, offline.WithRecorder(rec))
			network.serve(tt.url, tt.status, tt.typ, "body")

			resp, err := w.Fetch(t.Context(), offline.NewRequest(tt.url, offline.ModeNoCORS))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status, "response is still returned to the caller")

			w.Flush()
			_, ok, err := store.Match(t.Context(), "liftmate-v1", tt.url)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, 1, rec.cacheWrites(offline.WriteSkipped))
		})
	}
}

func TestWorker_OfflineFallback(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		mode     offline.RequestMode
		accept   string
		fallback bool
	}{
		{"url naming an html page", testScope + "workouts.html", offline.ModeSameOrigin, "", true},
		{"navigation", testScope + "stats", offline.ModeNavigate, "", true},
		{"accepts html", testScope + "history", offline.ModeSameOrigin, "text/html,application/xhtml+xml", true},
		{"script", testScope + "js/late.js", offline.ModeSameOrigin, "", false},
		{"external font", "https://fonts.example/inter.woff2", offline.ModeCORS, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			network := newFakeNetwork()
			rec := newCountingRecorder()
			w := installed(t, "liftmate-v1", store, network, offline.WithRecorder(rec))
			network.setDown(true)

			req := offline.NewRequest(tt.url, tt.mode)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			resp, err := w.Fetch(t.Context(), req)
			if !tt.fallback {
				require.Error(t, err)
				assert.Nil(t, resp)
				assert.ErrorIs(t, err, offline.ErrNetwork)
				assert.ErrorIs(t, err, errOffline)
				assert.Equal(t, 1, rec.fetches(offline.OutcomeNetworkError))
				return
			}
			require.NoError(t, err)
			shell, ok, err := store.Match(t.Context(), "liftmate-v1", testScope+"index.html")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, shell.Body, resp.Body)
			assert.Equal(t, 1, rec.fetches(offline.OutcomeFallback))
		})
	}
}

func TestWorker_OfflineFallbackWithoutShell(t *testing.T) {
	network := newFakeNetwork()
	network.setDown(true)
	w := newTestWorker(t, "liftmate-v1", memstore.New(), network)

	_, err := w.Fetch(t.Context(), offline.NewRequest(testScope+"index.html", offline.ModeNavigate))
	assert.ErrorIs(t, err, offline.ErrNetwork)
}

func TestWorker_NonGETBypassesCache(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	rec := newCountingRecorder()
	w := installed(t, "liftmate-v1", store, network, offline.WithRecorder(rec))

	url := testScope + "api/sync"
	network.serve(url, http.StatusOK, offline.TypeBasic, "ok")
	req := offline.NewRequest(url, offline.ModeSameOrigin)
	req.Method = http.MethodPost

	resp, err := w.Fetch(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))

	w.Flush()
	_, ok, err := store.Match(t.Context(), "liftmate-v1", url)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, rec.fetches(offline.OutcomeBypass))
}

func TestNewWorker_Validation(t *testing.T) {
	t.Parallel()
	network := newFakeNetwork()

	_, err := offline.NewWorker(offline.Config{Scope: testScope, Manifest: testManifest}, memstore.New(), network)
	assert.Error(t, err, "empty version")

	_, err = offline.NewWorker(offline.Config{Version: "v1", Scope: "/relative/", Manifest: testManifest}, memstore.New(), network)
	assert.Error(t, err, "relative scope")

	_, err = offline.NewWorker(offline.Config{Version: "v1", Scope: testScope}, memstore.New(), network)
	assert.Error(t, err, "empty manifest")

	_, err = offline.NewWorker(offline.Config{Version: "v1", Scope: testScope, Manifest: testManifest}, nil, network)
	assert.Error(t, err, "missing store")

	w, err := offline.NewWorker(offline.Config{Version: "v1", Scope: testScope, Manifest: testManifest}, memstore.New(), network)
	require.NoError(t, err)
	assert.Equal(t, testScope+"index.html", w.ShellKey(), "shell page defaults to index.html")
}

func TestWorker_HeadUsesCacheButIsNotStored(t *testing.T) {
	store := memstore.New()
	network := newFakeNetwork()
	w := installed(t, "liftmate-v1", store, network)

	head := offline.NewRequest(testScope+"index.html", offline.ModeSameOrigin)
	head.Method = http.MethodHead
	before := network.totalCalls()
	_, err := w.Fetch(t.Context(), head)
	require.NoError(t, err)
	assert.Equal(t, before, network.totalCalls(), "HEAD is answered from the cache")

	url := testScope + "img/head.png"
	network.serve(url, http.StatusOK, offline.TypeBasic, "")
	miss := offline.NewRequest(url, offline.ModeSameOrigin)
	miss.Method = http.MethodHead
	_, err = w.Fetch(t.Context(), miss)
	require.NoError(t, err)
	w.Flush()

	_, ok, err := store.Match(t.Context(), "liftmate-v1", url)
	require.NoError(t, err)
	assert.False(t, ok)
}
