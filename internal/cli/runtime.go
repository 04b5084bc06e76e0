package cli

import (
	"context"
	"io"
	"net/http"

	"github.com/liftmate/liftmate/internal/alerting"
	"github.com/liftmate/liftmate/internal/conf"
	"github.com/liftmate/liftmate/internal/datastore"
	"github.com/liftmate/liftmate/internal/events"
	"github.com/liftmate/liftmate/internal/fetch"
	"github.com/liftmate/liftmate/internal/logger"
	"github.com/liftmate/liftmate/internal/mqtt"
	"github.com/liftmate/liftmate/internal/notification"
	"github.com/liftmate/liftmate/internal/observability/metrics"
	"github.com/liftmate/liftmate/internal/offline"
	"github.com/liftmate/liftmate/internal/offline/memstore"
	"github.com/liftmate/liftmate/internal/telemetry"
)

// runtime wires the offline cache and its collaborators from settings.
type runtime struct {
	settings *conf.Settings
	log      logger.Logger

	store   offline.Store
	fetcher *fetch.HTTPFetcher
	metrics *metrics.Metrics
	bus     *events.Bus
	reg     *offline.Registration

	closers []func()
}

// runtimeOptions selects the optional subsystems of a runtime.
type runtimeOptions struct {
	// events enables the lifecycle bus with its metrics subscriber plus the
	// configured MQTT, Sentry and alert subscribers.
	events bool
}

func newRuntime(ctx context.Context, settings *conf.Settings, log logger.Logger, opts runtimeOptions) (rt *runtime, err error) {
	rt = &runtime{settings: settings, log: log}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if err := rt.openStore(); err != nil {
		return nil, err
	}

	origin, err := settings.OriginURL()
	if err != nil {
		return nil, err
	}
	rt.fetcher, err = fetch.New(&http.Client{Timeout: settings.FetchTimeout()}, origin.String(),
		fetch.WithLogger(log))
	if err != nil {
		return nil, err
	}

	if opts.events {
		if err := rt.startEvents(ctx); err != nil {
			return nil, err
		}
	}

	rt.reg = offline.NewRegistration(origin.String(), rt.fetcher, log)
	rt.closers = append(rt.closers, rt.reg.Flush)
	return rt, nil
}

func (rt *runtime) openStore() error {
	s := rt.settings.Cache.Store
	if s.Driver == conf.StoreMemory {
		rt.store = memstore.New()
		return nil
	}

	mgr, err := datastore.Open(datastore.Config{
		Driver: s.Driver,
		Path:   s.Path,
		DSN:    s.DSN,
		Debug:  logger.ParseLevel(rt.settings.Main.LogLevel) == logger.LogLevelDebug,
	}, rt.log)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() { _ = mgr.Close() })
	if err := mgr.Initialize(); err != nil {
		return err
	}
	rt.store = mgr.Store()
	return nil
}

func (rt *runtime) startEvents(ctx context.Context) error {
	m, err := metrics.New(true)
	if err != nil {
		return err
	}
	rt.metrics = m
	rt.bus = events.NewBus()
	// Stopping the bus drains queued events, so it must run before the
	// subscribers below are closed.
	defer func() { rt.closers = append(rt.closers, rt.bus.Stop) }()
	rt.bus.Subscribe(m.HandleEvent)

	if rt.settings.MQTT.Enabled {
		client, err := mqtt.NewClient(mqtt.Config{
			Broker:   rt.settings.MQTT.Broker,
			ClientID: rt.settings.MQTT.ClientID,
			Username: rt.settings.MQTT.Username,
			Password: rt.settings.MQTT.Password,
			Topic:    rt.settings.MQTT.Topic,
			Retain:   rt.settings.MQTT.Retain,
		}, rt.log)
		if err != nil {
			return err
		}
		// The broker may come up later; paho reconnects on its own once
		// connected, and events are counted as failed until then.
		if err := client.Connect(ctx); err != nil {
			rt.log.Warn("mqtt broker unavailable, lifecycle events will not be published",
				logger.String("broker", rt.settings.MQTT.Broker),
				logger.Error(err))
		}
		rt.closers = append(rt.closers, client.Disconnect)
		pub := mqtt.NewPublisher(client, rt.settings.MQTT.Topic, rt.log)
		rt.bus.Subscribe(pub.HandleEvent)
	}

	if rt.settings.Sentry.Enabled {
		reporter, err := telemetry.New(telemetry.Config{
			DSN:         rt.settings.Sentry.DSN,
			Environment: rt.settings.Main.Name,
			Release:     Version,
		}, rt.log)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { reporter.Flush(flushTimeout) })
		rt.bus.Subscribe(reporter.HandleEvent)
	}

	if n := rt.settings.Notification; n.Enabled {
		provider, err := notification.NewShoutrrrProvider("notification", n.URLs, n.Timeout.Std())
		if err != nil {
			return err
		}
		engine := alerting.NewEngine(n.AlertRules(), alerting.NewActionDispatcher(provider, rt.log).Dispatch, rt.log)
		rt.bus.Subscribe(engine.HandleEvent)
		rt.log.Info("lifecycle alerts enabled",
			logger.Int("rules", len(engine.Rules())),
			logger.Any("services", provider.Services()))
	}
	return nil
}

// newWorker builds a worker for the configured cache version.
func (rt *runtime) newWorker(_ context.Context) (*offline.Worker, error) {
	origin, err := rt.settings.OriginURL()
	if err != nil {
		return nil, err
	}
	opts := []offline.Option{offline.WithLogger(rt.log)}
	if rt.bus != nil {
		opts = append(opts, offline.WithPublisher(rt.bus))
	}
	if rt.metrics != nil {
		opts = append(opts, offline.WithRecorder(rt.metrics))
	}
	return offline.NewWorker(offline.Config{
		Version:        rt.settings.Cache.Version,
		Scope:          origin.String(),
		Manifest:       rt.settings.Cache.Manifest,
		ShellPage:      rt.settings.Cache.ShellPage,
		InstallTimeout: rt.settings.Cache.InstallTimeout.Std(),
	}, rt.store, rt.fetcher, opts...)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// newLogger creates the command logger from settings.
func newLogger(w io.Writer, settings *conf.Settings) logger.Logger {
	return logger.NewSlogLogger(w, logger.ParseLevel(settings.Main.LogLevel), &logger.Options{
		JSON: settings.Main.LogJSON,
	}).With(logger.String("service", settings.Main.Name))
}
