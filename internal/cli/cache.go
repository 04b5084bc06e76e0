package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/offline"
)

// namespaceRow is one line of `cache list`.
type namespaceRow struct {
	Name    string `json:"name" yaml:"name"`
	Entries int    `json:"entries" yaml:"entries"`
	Current bool   `json:"current" yaml:"current"`
}

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the offline cache store",
	}
	cmd.AddCommand(newCacheInstallCmd(opts))
	cmd.AddCommand(newCacheListCmd(opts))
	cmd.AddCommand(newCachePurgeCmd(opts))
	return cmd
}

func newCacheInstallCmd(opts *options) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Fetch the asset manifest into the configured cache version and activate it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if version != "" {
				opts.settings.Cache.Version = version
			}
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, opts.settings, opts.log, runtimeOptions{events: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			w, err := rt.newWorker(ctx)
			if err != nil {
				return err
			}
			if err := rt.reg.Register(ctx, w); err != nil {
				return err
			}
			keys, err := rt.store.Keys(ctx, w.Version())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(opts.stdout, "installed %s (%d entries, state %s)\n", w.Version(), len(keys), w.State())
			return err
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Cache version to install (overrides cache.version)")
	return cmd
}

func newCacheListCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cache namespaces and their entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, opts.settings, opts.log, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			rows, err := listNamespaces(ctx, rt.store, opts.settings.Cache.Version)
			if err != nil {
				return err
			}
			return writeRows(opts.stdout, output, rows)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", OutputText, "Output format: text, json or yaml")
	return cmd
}

func newCachePurgeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <namespace>",
		Short: "Delete a cache namespace and all of its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, opts.settings, opts.log, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			existed, err := rt.store.DeleteNamespace(ctx, args[0])
			if err != nil {
				return err
			}
			if !existed {
				return errors.Newf("cache namespace %q not found", args[0]).
					Component("cli").
					Category(errors.CategoryNotFound).
					Build()
			}
			_, err = fmt.Fprintf(opts.stdout, "purged %s\n", args[0])
			return err
		},
	}
}

func listNamespaces(ctx context.Context, store offline.Store, current string) ([]namespaceRow, error) {
	names, err := store.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]namespaceRow, 0, len(names))
	for _, name := range names {
		keys, err := store.Keys(ctx, name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, namespaceRow{Name: name, Entries: len(keys), Current: name == current})
	}
	return rows, nil
}

func writeRows(w io.Writer, format string, rows []namespaceRow) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(rows)
	case OutputText, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAMESPACE\tENTRIES\tCURRENT")
		for _, r := range rows {
			mark := ""
			if r.Current {
				mark = "*"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Name, r.Entries, mark)
		}
		return tw.Flush()
	default:
		return errors.Newf("unknown output format %q (valid: text, json, yaml)", format).
			Component("cli").
			Category(errors.CategoryValidation).
			Build()
	}
}
