// Package telemetry reports offline cache failures to Sentry.
package telemetry

import (
	"fmt"
	"maps"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/liftmate/liftmate/internal/events"
	"github.com/liftmate/liftmate/internal/logger"
)

// reported lists the lifecycle events sent to Sentry and their level.
var reported = map[string]sentry.Level{
	events.KindInstallFailed:         sentry.LevelError,
	events.KindNamespaceDeleteFailed: sentry.LevelWarning,
}

// Config configures the Sentry client.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Option adjusts the Sentry client options.
type Option func(*sentry.ClientOptions)

// WithBeforeSend installs a hook that may modify or drop events.
func WithBeforeSend(fn func(*sentry.Event, *sentry.EventHint) *sentry.Event) Option {
	return func(o *sentry.ClientOptions) { o.BeforeSend = fn }
}

// Reporter is an events.Handler sending failure events to Sentry.
type Reporter struct {
	hub *sentry.Hub
	log logger.Logger
}

// New creates a reporter with its own hub; the global Sentry hub is not
// touched.
func New(cfg Config, log logger.Logger, opts ...Option) (*Reporter, error) {
	if log == nil {
		log = logger.Default()
	}
	clientOpts := sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  1.0,
	}
	for _, opt := range opts {
		opt(&clientOpts)
	}
	client, err := sentry.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &Reporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: log.With(logger.String("component", "telemetry")),
	}, nil
}

// HandleEvent reports install and cleanup failures; other events are
// ignored.
func (r *Reporter) HandleEvent(event *events.Event) {
	level, ok := reported[event.Kind]
	if !ok {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("lifecycle.kind", event.Kind)
		scope.SetTag("cache.version", event.Version)
		if len(event.Properties) > 0 {
			scope.SetContext("lifecycle", maps.Clone(event.Properties))
		}
		msg := fmt.Sprintf("offline cache %s (%s)", event.Kind, event.Version)
		if cause, ok := event.Properties[events.PropertyError].(string); ok && cause != "" {
			msg += ": " + cause
		}
		if id := r.hub.CaptureMessage(msg); id != nil {
			r.log.Debug("reported lifecycle failure",
				logger.String("kind", event.Kind),
				logger.String("event_id", string(*id)))
		}
	})
}

// Flush waits for queued reports to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
