// Package cmd defines the medprice command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/medprice/internal/app"
	"github.com/JakeFAU/medprice/internal/config"
	"github.com/JakeFAU/medprice/internal/retrieval"
)

type configKey struct{}

// buildApp is the application factory. Tests replace it.
var buildApp = func(ctx context.Context, cfg config.Config) (runner, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return a, nil
}

// runner is the part of *app.App the commands use.
type runner interface {
	Run(ctx context.Context) error
	Search(ctx context.Context, keyword string, overrides map[string]bool) (retrieval.Response, error)
	Close(ctx context.Context)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "medprice",
		Short: "Compare medicine prices across Indian online pharmacies.",
		Long: `medprice searches apollo, pharmeasy, netmeds, 1mg and truemeds concurrently
for a medicine name and reports the top listings from each.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newServeCmd(), newSearchCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Config)
	if !ok {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
