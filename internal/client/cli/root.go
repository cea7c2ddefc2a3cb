package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dmitrijs2005/bugtracker/internal/buildinfo"
	"github.com/dmitrijs2005/bugtracker/internal/client/config"
	"github.com/dmitrijs2005/bugtracker/internal/client/models"
	"github.com/dmitrijs2005/bugtracker/internal/client/services"
	"github.com/dmitrijs2005/bugtracker/internal/filex"
)

// Test seams.
var (
	newAppFn = func(ctx context.Context, cfg *config.Config, v *viper.Viper, out io.Writer) (*App, error) {
		return NewApp(ctx, cfg, v, out)
	}
	configDirFn = func() (string, error) { return filex.DataDir(config.AppName) }
)

// annotation marking commands that run without an App.
const noApp = "noapp"

type rootOptions struct {
	configFile    string
	askPassphrase bool
}

// NewRootCommand builds the bugsync command tree. The App is created in
// PersistentPreRunE and closed in PersistentPostRun.
func NewRootCommand() *cobra.Command {
	var (
		opts rootOptions
		app  *App
	)

	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Track bugs against a shared remote store",
		Long: `bugsync keeps a local view of a shared bug list in sync with a
PostgREST-compatible remote store. The remote copy always wins: every change
is sent to the remote first and the local list is rebuilt from it.

Configuration is read from $XDG_CONFIG_HOME/bugsync/bugsync.yaml (or --config),
then BUGSYNC_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[noApp] == "true" {
				return nil
			}

			dir := ""
			if opts.configFile == "" {
				var err error
				if dir, err = configDirFn(); err != nil {
					return err
				}
			}
			v, err := config.NewViper(opts.configFile, dir)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd); err != nil {
				return err
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if opts.askPassphrase && cfg.CachePassphrase == "" {
				pass, err := GetPassword("Cache passphrase", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				cfg.CachePassphrase = string(pass)
			}

			app, err = newAppFn(cmd.Context(), cfg, v, cmd.OutOrStdout())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Close()
				app = nil
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Shell(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (default is the user config dir)")
	pf.String("url", "", "remote store base URL")
	pf.String("api-key", "", "remote store API key")
	pf.String("table", "", "remote table name")
	pf.String("feed", "", "change feed: poll, realtime or grpc")
	pf.String("cache", "", "cache database path")
	pf.String("log-file", "", "write logs to this file instead of stderr")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.BoolVar(&opts.askPassphrase, "ask-passphrase", false, "prompt for the cache encryption passphrase")

	appFn := func() *App { return app }
	root.AddCommand(
		newListCommand(appFn),
		newAddCommand(appFn),
		newUpdateCommand(appFn),
		newFixCommand(appFn, true),
		newFixCommand(appFn, false),
		newDeleteCommand(appFn),
		newShowCommand(appFn),
		simpleCommand("stats", "Show bug counts per category", appFn, (*App).Stats),
		simpleCommand("status", "Show connection and sync state", appFn, (*App).Status),
		simpleCommand("refresh", "Reconcile with the remote store now", appFn, (*App).Refresh),
		simpleCommand("watch", "Keep the list on screen and redraw on every change", appFn, (*App).Watch),
		newLoginCommand(appFn),
		simpleCommand("whoami", "Show the current identity", appFn, (*App).WhoAmI),
		simpleCommand("logout", "Forget the current identity", appFn, (*App).Logout),
		newVersionCommand(),
	)
	return root
}

var flagKeys = map[string]string{
	"url":       config.KeyRemoteURL,
	"api-key":   config.KeyRemoteAPIKey,
	"table":     config.KeyRemoteTable,
	"feed":      config.KeyFeedMode,
	"cache":     config.KeyCachePath,
	"log-file":  config.KeyLogFile,
	"log-level": config.KeyLogLevel,
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func simpleCommand(use, short string, app func() *App, run func(*App, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(app(), cmd.Context())
		},
	}
}

func newListCommand(app func() *App) *cobra.Command {
	var o ListOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List bugs, newest first",
		Example: `  bugsync list --category ux
  bugsync list --since "last monday" --state open
  bugsync list --since 48h --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().List(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVarP(&o.Category, "category", "c", "", "only this category")
	cmd.Flags().StringVar(&o.Since, "since", "", `only bugs created since (e.g. "24h", "2025-01-31", "last friday")`)
	cmd.Flags().StringVar(&o.State, "state", "", "open or fixed")
	cmd.Flags().BoolVar(&o.JSON, "json", false, "print JSON")
	return cmd
}

func newAddCommand(app func() *App) *cobra.Command {
	var o AddOptions
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Report a bug",
		Long:  "Report a bug. Without a title, the fields are asked for interactively.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.Title = args[0]
			}
			return app().Add(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVarP(&o.Description, "description", "d", "", "details")
	cmd.Flags().StringVarP(&o.Category, "category", "c", "", "interface, ux, logic, performance, security or other")
	cmd.Flags().StringVarP(&o.Priority, "priority", "p", "", "low, medium, high or critical")
	cmd.Flags().StringVar(&o.ScreenshotFile, "screenshot", "", "attach an image file")
	return cmd
}

func newUpdateCommand(app func() *App) *cobra.Command {
	var (
		title, description, category, priority, shot string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a bug",
		Long:  "Edit a bug. Only the given flags are changed; with none, an edit form opens.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Patch
			f := cmd.Flags()
			if f.Changed("title") {
				p.Title = &title
			}
			if f.Changed("description") {
				p.Description = &description
			}
			if f.Changed("category") {
				c := models.Category(category)
				p.Category = &c
			}
			if f.Changed("priority") {
				pr := models.Priority(priority)
				p.Priority = &pr
			}
			if f.Changed("screenshot") {
				s := ""
				if shot != "" {
					var err error
					if s, err = readScreenshot(shot); err != nil {
						return err
					}
				}
				p.Screenshot = &s
			}
			return app().Update(cmd.Context(), args[0], p)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVarP(&category, "category", "c", "", "new category")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "new priority")
	cmd.Flags().StringVar(&shot, "screenshot", "", `replace the screenshot ("" removes it)`)
	return cmd
}

func newFixCommand(app func() *App, fixed bool) *cobra.Command {
	use, short := "fix <id>", "Mark a bug fixed"
	if !fixed {
		use, short = "reopen <id>", "Mark a fixed bug open again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().SetFixed(cmd.Context(), args[0], fixed)
		},
	}
}

func newDeleteCommand(app func() *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a bug",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().Delete(cmd.Context(), args[0], yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newShowCommand(app func() *App) *cobra.Command {
	var o ShowOptions
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().Show(cmd.Context(), args[0], o)
		},
	}
	cmd.Flags().StringVarP(&o.ScreenshotOut, "output", "o", "", "save the screenshot to this file")
	cmd.Flags().BoolVar(&o.URL, "url", false, "print a temporary link to an offloaded screenshot")
	return cmd
}

func newLoginCommand(app func() *App) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "login [display name]",
		Short: "Choose the name and role recorded on your changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return app().Login(cmd.Context(), name, services.Role(role))
		},
	}
	cmd.Flags().StringVar(&role, "role", string(services.RoleUser), "user or admin")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print build information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noApp: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
		},
	}
}

// Execute runs the root command and maps errors to an exit code.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errAborted) {
			return 1
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
