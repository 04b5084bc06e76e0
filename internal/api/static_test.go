package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIsUnhashedAsset verifies the helper correctly identifies unhashed asset paths.
func TestIsUnhashedAsset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want bool
	}{
		{
			name: "plain script",
			path: "js/app.js",
			want: true,
		},
		{
			name: "plain stylesheet",
			path: "css/styles.css",
			want: true,
		},
		{
			name: "hashed JS file",
			path: "assets/index-3f9a1c2b.js",
			want: false,
		},
		{
			name: "hashed CSS file with dot separator",
			path: "assets/style.deadbeef42.css",
			want: false,
		},
		{
			name: "short suffix is not a hash",
			path: "js/chart-v4.js",
			want: true,
		},
		{
			name: "image",
			path: "icons/icon-192.png",
			want: false,
		},
		{
			name: "empty path",
			path: "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := isUnhashedAsset(tt.path)
			assert.Equal(t, tt.want, got, "isUnhashedAsset(%q)", tt.path)
		})
	}
}

func testShell() fstest.MapFS {
	return fstest.MapFS{
		"index.html":                &fstest.MapFile{Data: []byte("<!doctype html><title>LiftMate</title>")},
		"css/styles.css":            &fstest.MapFile{Data: []byte("body{}")},
		"js/app.js":                 &fstest.MapFile{Data: []byte(`console.log("app")`)},
		"assets/vendor-3f9a1c2b.js": &fstest.MapFile{Data: []byte("vendor")},
		"icons/icon-192.png":        &fstest.MapFile{Data: []byte{0x89, 'P', 'N', 'G'}},
		"sw.js":                     &fstest.MapFile{Data: []byte("self.addEventListener('fetch', () => {})")},
	}
}

// TestOriginServer_CacheHeaders verifies Cache-Control per asset kind.
func TestOriginServer_CacheHeaders(t *testing.T) {
	srv := NewOriginServer(testShell(), WebManifest{Name: "LiftMate"}, testLogger())

	tests := []struct {
		name             string
		path             string
		wantCacheControl string
	}{
		{"root serves index with no-cache", "/", "no-cache"},
		{"html gets no-cache", "/index.html", "no-cache"},
		{"unhashed CSS must revalidate", "/css/styles.css", "no-cache, must-revalidate"},
		{"unhashed JS must revalidate", "/js/app.js", "no-cache, must-revalidate"},
		{"hashed JS is cached for a day", "/assets/vendor-3f9a1c2b.js", "public, max-age=86400"},
		{"images are cached for a day", "/icons/icon-192.png", "public, max-age=86400"},
		{"service worker gets no-cache", "/sw.js", "no-cache"},
		{"manifest gets no-cache", "/manifest.webmanifest", "no-cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantCacheControl, rec.Header().Get("Cache-Control"),
				"Cache-Control header for path %q", tt.path)
		})
	}
}

func TestOriginServer_ServiceWorker(t *testing.T) {
	srv := NewOriginServer(testShell(), WebManifest{}, testLogger())

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/sw.js", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Service-Worker-Allowed"))
	assert.Contains(t, rec.Body.String(), "addEventListener")

	files := testShell()
	delete(files, "sw.js")
	bare := NewOriginServer(files, WebManifest{}, testLogger())
	rec = doRequest(bare, httptest.NewRequest(http.MethodGet, "/sw.js", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Service-Worker-Allowed"))
}

func TestOriginServer_Manifest(t *testing.T) {
	srv := NewOriginServer(testShell(), WebManifest{
		Name:       "LiftMate",
		ShortName:  "Lift",
		ThemeColor: "#1e88e5",
	}, testLogger())

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/manifest.webmanifest", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/manifest+json", rec.Header().Get("Content-Type"))

	var got WebManifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, WebManifest{
		Name:       "LiftMate",
		ShortName:  "Lift",
		StartURL:   "./",
		Scope:      "./",
		Display:    "standalone",
		ThemeColor: "#1e88e5",
	}, got)
}

func TestOriginServer_NotFound(t *testing.T) {
	srv := NewOriginServer(testShell(), WebManifest{}, testLogger())

	for _, p := range []string{"/missing.js", "/../index.html/../../etc/passwd", "/css/"} {
		rec := doRequest(srv, httptest.NewRequest(http.MethodGet, p, http.NoBody))
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
	}
}
