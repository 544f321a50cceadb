// Package commands defines the provision CLI command structure and flag
// bindings.
//
// Every command that touches device data opens the same component graph as
// the API server (internal/app), so a configuration written here is
// indistinguishable from one written through the companion app. With
// --dry-run the graph is kept in memory and nothing reaches a device.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/dispenser-core/internal/app"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/config"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/session"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dryRun     bool
	user       string
	logLevel   string
}

// Root returns the root command for the provision CLI.
func Root() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "provision",
		Short:         "Set up and configure medication dispensers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (default: built-in defaults and DISPENSER_* environment)")
	cmd.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "Keep all state in memory; nothing is written to a device")
	cmd.PersistentFlags().StringVarP(&opts.user, "user", "u", defaultUser(), "User the session acts as")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr (debug, info, warn, error)")

	cmd.AddCommand(Wizard(opts))
	cmd.AddCommand(Validate(opts))
	cmd.AddCommand(Config(opts))
	cmd.AddCommand(Token(opts))
	cmd.AddCommand(Version())

	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

// loadConfig reads the config file when one is given, otherwise the
// defaults with environment overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default()
	}
	return config.Load(o.configPath)
}

// open loads configuration and connects the component graph. Logs go to
// stderr so they never interleave with prompts.
func (o *globalOptions) open(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	if o.user == "" {
		return nil, fmt.Errorf("a user is required (--user)")
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	log := logging.NewWithWriter(cmd.ErrOrStderr(), config.LoggingConfig{
		Level:  o.logLevel,
		Format: "text",
	}, version)

	return app.Open(ctx, cfg, log, app.Options{
		Sessions: session.Static(o.user),
		DryRun:   o.dryRun,
	})
}
