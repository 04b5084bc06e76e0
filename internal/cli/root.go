// Package cli implements the liftmate command line.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftmate/liftmate/internal/conf"
	"github.com/liftmate/liftmate/internal/logger"
)

// Version is set at build time
var Version = "dev"

// flushTimeout bounds how long shutdown waits for error reports.
const flushTimeout = 2 * time.Second

// Output formats for listing commands.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// options holds the global flags shared by every command.
type options struct {
	configFile string
	logLevel   string

	stdout io.Writer
	stderr io.Writer

	settings *conf.Settings
	log      logger.Logger
}

// Execute runs the CLI with the given arguments and IO writers and returns
// the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// NewRootCmd creates the root command with injectable IO.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:     "liftmate",
		Short:   "LiftMate offline asset cache",
		Long:    "liftmate serves the LiftMate app shell and keeps it available offline through a versioned, cache-first proxy.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to liftmate.yaml (default: search ., ~/.config/liftmate, /etc/liftmate)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(newProxyCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCacheCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))
	return cmd
}

func (o *options) load() error {
	settings, err := conf.Load(o.configFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		settings.Main.LogLevel = o.logLevel
	}
	o.settings = settings
	o.log = newLogger(o.stderr, settings)
	return nil
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the liftmate version",
		Args:  cobra.NoArgs,
		// The version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(opts.stdout, "liftmate version %s\n", Version)
			return err
		},
	}
}
