package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liftmate/liftmate/internal/api"
	"github.com/liftmate/liftmate/internal/errors"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		listen string
		root   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the LiftMate app shell as the origin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := opts.settings
			if listen != "" {
				settings.Origin.Listen = listen
			}
			if root != "" {
				settings.Origin.Root = root
			}
			if info, err := os.Stat(settings.Origin.Root); err != nil || !info.IsDir() {
				return errors.Newf("origin root %q is not a readable directory", settings.Origin.Root).
					Component("cli").
					Category(errors.CategoryConfig).
					Context("field", "origin.root").
					Build()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.NewOriginServer(os.DirFS(settings.Origin.Root), api.WebManifest{
				Name:            settings.PWA.Name,
				ShortName:       settings.PWA.ShortName,
				ThemeColor:      settings.PWA.ThemeColor,
				BackgroundColor: settings.PWA.BackgroundColor,
			}, opts.log)
			return srv.Run(ctx, settings.Origin.Listen, settings.Proxy.ShutdownTimeout.Std())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides origin.listen)")
	cmd.Flags().StringVar(&root, "root", "", "Directory containing the app shell (overrides origin.root)")
	return cmd
}
