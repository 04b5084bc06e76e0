package api

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/liftmate/liftmate/internal/logger"
)

// OriginServer serves the LiftMate application shell: static files, the
// generated web manifest and the service worker script.
type OriginServer struct {
	echo         *echo.Echo
	staticServer *StaticFileServer
	manifest     WebManifest
	log          logger.Logger
}

// NewOriginServer serves files with manifest as /manifest.webmanifest.
// Missing manifest fields get defaults suitable for a root-scoped app.
func NewOriginServer(files fs.FS, manifest WebManifest, log logger.Logger) *OriginServer {
	if log == nil {
		log = logger.Default()
	}
	if manifest.StartURL == "" {
		manifest.StartURL = "./"
	}
	if manifest.Scope == "" {
		manifest.Scope = "./"
	}
	if manifest.Display == "" {
		manifest.Display = "standalone"
	}
	log = log.With(logger.String("component", "origin"))
	s := &OriginServer{
		echo:         newEcho(log),
		staticServer: NewStaticFileServer(files),
		manifest:     manifest,
		log:          log,
	}
	s.registerPWARoutes()
	s.echo.GET("/*", s.staticServer.handleFile)
	s.echo.HEAD("/*", s.staticServer.handleFile)
	return s
}

// ServeHTTP implements http.Handler.
func (s *OriginServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Echo returns the underlying echo instance.
func (s *OriginServer) Echo() *echo.Echo {
	return s.echo
}

// Run listens on addr until ctx is cancelled.
func (s *OriginServer) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.log.Info("origin server listening", logger.String("addr", addr))
	return serve(ctx, s.echo, addr, shutdownTimeout, s.log)
}
