package api

import (
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
)

// WebManifest is the generated manifest.webmanifest document.
type WebManifest struct {
	Name            string `json:"name"`
	ShortName       string `json:"short_name"`
	StartURL        string `json:"start_url"`
	Scope           string `json:"scope"`
	Display         string `json:"display"`
	ThemeColor      string `json:"theme_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
}

// registerPWARoutes registers routes for PWA support files.
// The manifest and service worker must be served from root paths
// so the service worker scope covers the entire application.
func (s *OriginServer) registerPWARoutes() {
	s.echo.GET("/manifest.webmanifest", s.handleManifest)

	// Serve service worker from root path with Service-Worker-Allowed header
	s.echo.GET("/sw.js", func(c echo.Context) error {
		if _, err := fs.Stat(s.staticServer.files, "sw.js"); err != nil {
			return echo.ErrNotFound
		}
		c.Response().Header().Set("Service-Worker-Allowed", "/")
		return s.staticServer.handlePWAFile(c, "sw.js")
	})
}

func (s *OriginServer) handleManifest(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", cacheNoCache)
	c.Response().Header().Set(echo.HeaderContentType, "application/manifest+json")
	return c.JSON(http.StatusOK, s.manifest)
}

// handlePWAFile serves a PWA file. PWA files have fixed names, so they are
// always revalidated regardless of the static asset rules.
func (sfs *StaticFileServer) handlePWAFile(c echo.Context, filename string) error {
	c.Response().Header().Set("Cache-Control", cacheNoCache)
	return sfs.serveFile(c, filename)
}
