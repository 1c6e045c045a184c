package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"minyancal/internal/app"
	"minyancal/internal/config"
	appLog "minyancal/internal/log"
	"minyancal/internal/seed"
)

const version = "0.1.0"

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		appLog.Error("minyancal failed", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "minyancal",
		Short:         "Minyan calendar import and schedule service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			appLog.Configure(appLog.Options{
				Level:      cfg.Log.Level,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAgeDays: cfg.Log.MaxAgeDays,
			})
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "/etc/minyancal/config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newImportCommand(opts),
		newMaterializeCommand(opts),
		newCleanupCommand(opts),
		newSeedCommand(opts),
	)
	return cmd
}

// withApp builds the services, runs fn and closes them.
func withApp(opts *rootOptions, fn func(a *app.App) error) error {
	a, err := app.New(opts.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the weekly scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				opts.cfg.Listen = listen
			}
			appLog.Info("minyancal starting",
				"version", version,
				"listen", opts.cfg.Listen,
				"timezone", opts.cfg.Timezone,
				"database", opts.cfg.Database,
				"window_past_weeks", opts.cfg.Window.PastWeeks,
				"window_future_weeks", opts.cfg.Window.FutureWeeks,
				"cron", opts.cfg.Schedule.Cron,
				"browser", opts.cfg.Browser.Enabled,
			)
			return withApp(opts, func(a *app.App) error {
				err := a.Serve(cmd.Context())
				appLog.Info("minyancal exiting")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Import every organization, then materialize, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				rep, err := a.Scheduler.RunNow(cmd.Context())
				if perr := printJSON(cmd, rep); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var orgID int64
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Fetch and classify external calendars",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				ctx := cmd.Context()
				if orgID == 0 {
					results, err := a.Importer.ImportAll(ctx)
					if perr := printJSON(cmd, results); perr != nil {
						return perr
					}
					return err
				}
				org, err := a.Store.GetOrganization(ctx, orgID)
				if err != nil {
					return err
				}
				res, err := a.Importer.ImportOrganization(ctx, org)
				if perr := printJSON(cmd, res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id (default: all enabled organizations)")
	return cmd
}

func newMaterializeCommand(opts *rootOptions) *cobra.Command {
	var orgID int64
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Regenerate calendar events for the rolling window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				ctx := cmd.Context()
				if orgID == 0 {
					sums, err := a.Materializer.MaterializeAll(ctx)
					if perr := printJSON(cmd, sums); perr != nil {
						return perr
					}
					return err
				}
				sum, err := a.Materializer.MaterializeOrganization(ctx, orgID)
				if perr := printJSON(cmd, sum); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id (default: all enabled organizations)")
	return cmd
}

func newCleanupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events outside the window and expired imported entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				res, err := a.Materializer.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var materialize bool
	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load organizations, locations and rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app.App) error {
				ctx := cmd.Context()
				res, err := seed.Apply(ctx, a.Store, file)
				if err != nil {
					return err
				}
				appLog.Info("seed applied",
					"organizations", res.Organizations,
					"locations", res.Locations,
					"rules", res.Rules,
					"rules_replaced", res.RulesReplaced,
				)
				if !materialize {
					return nil
				}
				sums, err := a.Materializer.MaterializeAll(ctx)
				if perr := printJSON(cmd, sums); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&materialize, "materialize", true, "materialize every organization after seeding")
	return cmd
}
