package api

import (
	"bytes"
	"io/fs"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Cache-Control values for the origin server.
const (
	cacheNoCache      = "no-cache"
	cacheRevalidate   = "no-cache, must-revalidate"
	cacheStaticAssets = "public, max-age=86400"
)

// hashedAsset matches build outputs such as app-3f9a1c2b.js.
var hashedAsset = regexp.MustCompile(`[.-][0-9a-fA-F]{8,}\.(js|css)$`)

// StaticFileServer serves the application shell from a file system.
type StaticFileServer struct {
	files   fs.FS
	modTime time.Time
}

// NewStaticFileServer serves files from files.
func NewStaticFileServer(files fs.FS) *StaticFileServer {
	return &StaticFileServer{files: files, modTime: time.Now()}
}

// isUnhashedAsset reports whether name is a script or stylesheet whose name
// does not change between releases.
func isUnhashedAsset(name string) bool {
	ext := path.Ext(name)
	if ext != ".js" && ext != ".css" {
		return false
	}
	return !hashedAsset.MatchString(name)
}

// cacheControlFor returns the Cache-Control value for a served file.
func cacheControlFor(name string) string {
	switch {
	case name == "sw.js" || name == "manifest.webmanifest":
		return cacheNoCache
	case path.Ext(name) == ".html":
		return cacheNoCache
	case isUnhashedAsset(name):
		return cacheRevalidate
	default:
		return cacheStaticAssets
	}
}

// cleanName converts a request path into an fs.FS name. Directories map to
// their index.html.
func cleanName(reqPath string) (string, bool) {
	name := strings.TrimPrefix(path.Clean("/"+reqPath), "/")
	if name == "" || strings.HasSuffix(reqPath, "/") {
		name = path.Join(name, "index.html")
	}
	return name, fs.ValidPath(name)
}

// handleFile serves the file named by the request path.
func (sfs *StaticFileServer) handleFile(c echo.Context) error {
	name, ok := cleanName(c.Request().URL.Path)
	if !ok {
		return echo.ErrNotFound
	}
	return sfs.serveFile(c, name)
}

// serveFile writes name with its Cache-Control header. Range and
// conditional requests are handled by http.ServeContent.
func (sfs *StaticFileServer) serveFile(c echo.Context, name string) error {
	if info, err := fs.Stat(sfs.files, name); err == nil && info.IsDir() {
		name = path.Join(name, "index.html")
	}
	data, err := fs.ReadFile(sfs.files, name)
	if err != nil {
		return echo.ErrNotFound
	}

	h := c.Response().Header()
	if h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", cacheControlFor(name))
	}
	http.ServeContent(c.Response(), c.Request(), name, sfs.modTime, bytes.NewReader(data))
	return nil
}
