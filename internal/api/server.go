// Package api exposes the offline cache over HTTP: a caching proxy in front
// of the LiftMate origin, and the origin server for the application shell.
package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/logger"
	"github.com/liftmate/liftmate/internal/offline"
)

const (
	// HeaderResponseType reports how the offline cache classified a response.
	HeaderResponseType = "X-Liftmate-Response-Type"

	defaultClientCookie    = "liftmate_client"
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxRequestBody  = 8 << 20
	defaultClientIdle      = 30 * time.Minute
	minClientSweep         = time.Second
	disconnectTimeout      = 30 * time.Second
)

// ProxyConfig configures the caching proxy.
type ProxyConfig struct {
	// Origin is the upstream application; relative request paths resolve
	// against it.
	Origin *url.URL
	// ClientCookie names the cookie carrying the client ID.
	ClientCookie string
	// MetricsPath serves the metrics handler when one is configured.
	MetricsPath string
	// MaxRequestBody caps forwarded request bodies.
	MaxRequestBody int64
	// ClientIdleTimeout disconnects clients that sent no request for this
	// long.
	ClientIdleTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetricsHandler exposes h on the configured metrics path.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// Server is the caching proxy. Each browser is a client of the
// registration, identified by a cookie, and its requests are answered by
// the worker controlling it.
type Server struct {
	echo    *echo.Echo
	cfg     ProxyConfig
	reg     *offline.Registration
	metrics http.Handler
	log     logger.Logger

	// sessions tracks client activity; expired entries are disconnected
	// from the registration.
	sessions *cache.Cache
}

// NewServer creates the proxy for reg.
func NewServer(cfg ProxyConfig, reg *offline.Registration, log logger.Logger, opts ...ServerOption) (*Server, error) {
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, errors.Newf("proxy origin must be an absolute URL").
			Component("api").
			Category(errors.CategoryConfig).
			Build()
	}
	if reg == nil {
		return nil, errors.Newf("proxy requires a registration").
			Component("api").
			Category(errors.CategoryConfig).
			Build()
	}
	if cfg.ClientCookie == "" {
		cfg.ClientCookie = defaultClientCookie
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = defaultMaxRequestBody
	}
	if cfg.ClientIdleTimeout <= 0 {
		cfg.ClientIdleTimeout = defaultClientIdle
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.String("component", "proxy"))

	s := &Server{
		echo: newEcho(log),
		cfg:  cfg,
		reg:  reg,
		log:  log,
		// No janitor; Run sweeps on its own ticker.
		sessions: cache.New(cfg.ClientIdleTimeout, 0),
	}
	s.sessions.OnEvicted(s.disconnect)
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.echo.GET(cfg.MetricsPath, echo.WrapHandler(s.metrics))
	}
	s.echo.Any("/*", s.handleProxy)
	return s, nil
}

// Group creates a route group on the proxy. Routes in groups take
// precedence over proxied paths.
func (s *Server) Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, m...)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled, then shuts down and flushes
// pending cache writes.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.log.Info("proxy listening",
		logger.String("addr", addr),
		logger.String("origin", s.cfg.Origin.String()))
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		s.sweepLoop(sweepCtx)
	}()

	err := serve(ctx, s.echo, addr, shutdownTimeout, s.log)
	stopSweep()
	<-sweepDone
	s.reg.Flush()
	return err
}

func (s *Server) sweepLoop(ctx context.Context) {
	interval := max(s.cfg.ClientIdleTimeout/4, minClientSweep)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepClients()
		}
	}
}

// sweepClients disconnects clients idle for longer than ClientIdleTimeout.
func (s *Server) sweepClients() {
	s.sessions.DeleteExpired()
}

func (s *Server) disconnect(id string, _ any) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.reg.Disconnect(ctx, id); err != nil {
		s.log.Warn("disconnecting idle client failed",
			logger.String("client", id),
			logger.Error(err))
		return
	}
	s.log.Debug("idle client disconnected", logger.String("client", id))
}

func (s *Server) handleProxy(c echo.Context) error {
	r := c.Request()
	req, err := s.buildRequest(r)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clientID := s.clientFor(c, req)

	resp, err := s.reg.Fetch(r.Context(), clientID, req)
	if err != nil {
		if errors.Is(err, offline.ErrNetwork) {
			s.log.Warn("upstream unavailable",
				logger.String("url", req.URL),
				logger.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, http.StatusText(http.StatusBadGateway))
		}
		return err
	}
	return writeResponse(c, resp)
}

// buildRequest maps an incoming request onto the origin. Absolute-form
// proxy requests keep their URL.
func (s *Server) buildRequest(r *http.Request) (*offline.Request, error) {
	target := r.URL
	if !r.URL.IsAbs() {
		u := *s.cfg.Origin
		u.Path = strings.TrimSuffix(s.cfg.Origin.Path, "/") + r.URL.Path
		u.RawPath = ""
		u.RawQuery = r.URL.RawQuery
		u.Fragment = ""
		target = &u
	}

	req := &offline.Request{
		Method: r.Method,
		URL:    target.String(),
		Mode:   requestMode(r, target, s.cfg.Origin),
		Header: r.Header.Clone(),
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxRequestBody+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > s.cfg.MaxRequestBody {
			return nil, errors.Newf("request body exceeds %d bytes", s.cfg.MaxRequestBody).
				Component("api").
				Category(errors.CategoryValidation).
				Build()
		}
		req.Body = body
	}
	return req, nil
}

// requestMode prefers the browser's Sec-Fetch-Mode and otherwise infers the
// mode from the target and the Accept header.
func requestMode(r *http.Request, target, origin *url.URL) offline.RequestMode {
	switch m := offline.RequestMode(r.Header.Get("Sec-Fetch-Mode")); m {
	case offline.ModeNavigate, offline.ModeSameOrigin, offline.ModeCORS, offline.ModeNoCORS:
		return m
	}
	if !strings.EqualFold(target.Scheme, origin.Scheme) || !strings.EqualFold(target.Host, origin.Host) {
		return offline.ModeCORS
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return offline.ModeNavigate
	}
	return offline.ModeSameOrigin
}

// clientFor returns the client ID for the request, connecting the browser
// on first sight and on every navigation. Every request refreshes the
// client's idle deadline.
func (s *Server) clientFor(c echo.Context, req *offline.Request) string {
	var id string
	if cookie, err := c.Cookie(s.cfg.ClientCookie); err == nil {
		id = cookie.Value
	}
	if req.Mode != offline.ModeNavigate && s.reg.Connected(id) {
		s.sessions.SetDefault(id, struct{}{})
		return id
	}
	newID := s.reg.Connect(id, req.URL)
	s.sessions.SetDefault(newID, struct{}{})
	if newID != id {
		c.SetCookie(&http.Cookie{
			Name:     s.cfg.ClientCookie,
			Value:    newID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return newID
}

// writeResponse copies resp to the client. Opaque responses carry no
// status and are written as an empty 200.
func writeResponse(c echo.Context, resp *offline.Response) error {
	h := c.Response().Header()
	for k, v := range resp.Header {
		if k == echo.HeaderContentLength {
			continue
		}
		h[k] = append([]string(nil), v...)
	}
	h.Set(HeaderResponseType, string(resp.Type))

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if !bodyAllowed(status) {
		c.Response().WriteHeader(status)
		return nil
	}
	h.Set(echo.HeaderContentLength, strconv.Itoa(len(resp.Body)))
	c.Response().WriteHeader(status)
	if c.Request().Method == http.MethodHead {
		return nil
	}
	_, err := c.Response().Write(resp.Body)
	return err
}

func bodyAllowed(status int) bool {
	return status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified
}

// newEcho creates an echo instance with recovery and request logging.
func newEcho(log logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency))
			return nil
		},
	}))
	return e
}

// serve runs e on addr until ctx is cancelled and then shuts it down
// gracefully.
func serve(ctx context.Context, e *echo.Echo, addr string, shutdownTimeout time.Duration, log logger.Logger) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("addr", addr).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	log.Info("shutting down", logger.String("addr", addr))
	if err := e.Shutdown(shutdownCtx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	<-errCh
	return nil
}
