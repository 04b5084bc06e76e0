// Package api implements the LiftMate admin API (v2) for inspecting and
// managing the offline cache.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/logger"
	"github.com/liftmate/liftmate/internal/offline"
)

// Rate limits for admin endpoints
const (
	rateLimitWindow            = 1 * time.Minute
	rateLimitRequestsPerSecond = 5
	rateLimitBurst             = 20
)

// WorkerFactory builds a new worker from the current settings.
type WorkerFactory func(ctx context.Context) (*offline.Worker, error)

// ErrorResponse is the body of every failed admin request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithRateLimit overrides the per-client admin rate limit.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Controller) {
		c.limit = limit
		c.burst = burst
	}
}

// Controller serves the admin API.
type Controller struct {
	Group        *echo.Group
	Registration *offline.Registration
	Store        offline.Store
	NewWorker    WorkerFactory

	limit  rate.Limit
	burst  int
	logger logger.Logger
}

// New registers the admin routes on group.
func New(group *echo.Group, reg *offline.Registration, store offline.Store, factory WorkerFactory, log logger.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logger.Default()
	}
	c := &Controller{
		Group:        group,
		Registration: reg,
		Store:        store,
		NewWorker:    factory,
		limit:        rateLimitRequestsPerSecond,
		burst:        rateLimitBurst,
		logger:       log.With(logger.String("component", "admin_api")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initCacheRoutes()
	return c
}

// rateLimiter limits admin requests per client IP.
func (c *Controller) rateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      c.limit,
				Burst:     c.burst,
				ExpiresIn: rateLimitWindow,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{"error": "Unable to identify client"})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many admin requests, please wait before trying again",
			})
		},
	})
}

// HandleError logs err and writes an ErrorResponse with a correlation ID
// that appears in both the log and the response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	correlationID := uuid.NewString()[:8]
	fields := []logger.Field{
		logger.String("correlation_id", correlationID),
		logger.String("path", ctx.Request().URL.Path),
		logger.Int("code", code),
		logger.Error(err),
	}
	if cat := errors.CategoryOf(err); cat != "" {
		fields = append(fields, logger.String("category", string(cat)))
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error(message, fields...)
	} else {
		c.logger.Warn(message, fields...)
	}

	return ctx.JSON(code, ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	})
}
