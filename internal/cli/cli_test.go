package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOrigin serves the test app shell. Paths listed in missing answer 404.
func newOrigin(t *testing.T, missing ...string) *httptest.Server {
	t.Helper()
	files := map[string]string{
		"/":           "<!doctype html>",
		"/index.html": "<!doctype html>",
		"/js/app.js":  "console.log('app')",
	}
	for _, p := range missing {
		delete(files, p)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a liftmate.yaml using a SQLite store in a temp dir.
func writeConfig(t *testing.T, origin string, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "liftmate.yaml")
	content := fmt.Sprintf(`main:
  log_level: error
cache:
  version: liftmate-test-v1
  manifest: ["./", "./index.html", "./js/app.js"]
  store:
    driver: sqlite
    path: %s
proxy:
  origin: %s/
%s`, filepath.Join(dir, "cache.db"), origin, extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = Execute(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestVersionCommand(t *testing.T) {
	code, stdout, stderr := run("version")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "liftmate version dev\n", stdout)
}

func TestHelp(t *testing.T) {
	code, stdout, _ := run("--help")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Usage:")
	for _, sub := range []string{"proxy", "serve", "cache"} {
		assert.Contains(t, stdout, sub)
	}
}

func TestCacheLifecycle(t *testing.T) {
	cfg := writeConfig(t, newOrigin(t).URL, "")

	code, stdout, stderr := run("cache", "install", "--config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "installed liftmate-test-v1 (3 entries, state activated)\n", stdout)

	code, stdout, stderr = run("cache", "list", "-o", "json", "--config", cfg)
	require.Equal(t, 0, code, stderr)
	var rows []namespaceRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	assert.Equal(t, []namespaceRow{{Name: "liftmate-test-v1", Entries: 3, Current: true}}, rows)

	// A new version replaces the old namespace on activation.
	code, _, stderr = run("cache", "install", "--version", "liftmate-test-v2", "--config", cfg)
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr = run("cache", "list", "--config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "liftmate-test-v2")
	assert.NotContains(t, stdout, "liftmate-test-v1")

	code, stdout, stderr = run("cache", "purge", "liftmate-test-v2", "--config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "purged liftmate-test-v2\n", stdout)

	code, _, stderr = run("cache", "purge", "liftmate-test-v2", "--config", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}

func TestCacheInstall_FailsAtomically(t *testing.T) {
	cfg := writeConfig(t, newOrigin(t, "/js/app.js").URL, "")

	code, _, stderr := run("cache", "install", "--config", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "js/app.js")

	code, stdout, stderr := run("cache", "list", "-o", "yaml", "--config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "[]\n", stdout, "nothing is stored after a failed install")
}

func TestCacheList_UnknownFormat(t *testing.T) {
	cfg := writeConfig(t, newOrigin(t).URL, "")

	code, _, stderr := run("cache", "list", "-o", "xml", "--config", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown output format")
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{"mqtt without broker", "mqtt:\n  enabled: true\n", "broker"},
		{"sentry without dsn", "sentry:\n  enabled: true\n", "dsn"},
		{"notifications without urls", "notification:\n  enabled: true\n", "service URLs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeConfig(t, "http://127.0.0.1:1", tt.extra)
			code, _, stderr := run("cache", "list", "--config", cfg)
			assert.Equal(t, 1, code)
			assert.True(t, strings.Contains(stderr, tt.want), stderr)
		})
	}
}

func TestServe_MissingRoot(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "")

	code, _, stderr := run("serve", "--root", filepath.Join(t.TempDir(), "missing"), "--config", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "origin root")
}
