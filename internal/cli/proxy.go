package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liftmate/liftmate/internal/api"
	apiv2 "github.com/liftmate/liftmate/internal/api/v2"
	"github.com/liftmate/liftmate/internal/logger"
)

func newProxyCmd(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the caching proxy in front of the LiftMate origin",
		Long: "proxy installs the configured cache version and answers browser requests " +
			"cache-first, falling back to the network and to the app shell when offline.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				opts.settings.Proxy.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProxy(ctx, opts)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides proxy.listen)")
	return cmd
}

func runProxy(ctx context.Context, opts *options) error {
	settings := opts.settings
	rt, err := newRuntime(ctx, settings, opts.log, runtimeOptions{events: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := rt.newWorker(ctx)
	if err != nil {
		return err
	}
	// A failed install leaves the proxy passing requests to the network;
	// the admin API can retry with POST /cache/update.
	if err := rt.reg.Register(ctx, w); err != nil {
		opts.log.Warn("initial cache install failed, serving from network",
			logger.String("version", w.Version()),
			logger.Error(err))
	}

	origin, err := settings.OriginURL()
	if err != nil {
		return err
	}
	var serverOpts []api.ServerOption
	if settings.Metrics.Enabled && rt.metrics != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(rt.metrics.Handler()))
	}
	srv, err := api.NewServer(api.ProxyConfig{
		Origin:            origin,
		ClientCookie:      settings.Proxy.ClientCookie,
		MetricsPath:       settings.Metrics.Path,
		ClientIdleTimeout: settings.Proxy.ClientIdleTimeout.Std(),
	}, rt.reg, opts.log, serverOpts...)
	if err != nil {
		return err
	}
	apiv2.New(srv.Group(settings.Proxy.AdminPrefix+"/api/v2"), rt.reg, rt.store, rt.newWorker, opts.log)

	return srv.Run(ctx, settings.Proxy.Listen, settings.Proxy.ShutdownTimeout.Std())
}
