package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	v1 "carbon-scribe/ghg-reporting/api/v1"
	"carbon-scribe/ghg-reporting/internal/config"
)

// globals carries the state the persistent flags set up
type globals struct {
	configPath string
	verbose    bool
	cfg        *config.Config
	logger     *zap.Logger
}

// NewRootCmd creates the ghgctl command tree
func NewRootCmd(version string) *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "ghgctl",
		Short:         "Calculate GHG inventories and generate disclosure reports",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(g.configPath)
			if err != nil {
				return err
			}
			g.cfg = cfg

			g.logger = zap.NewNop()
			if g.verbose {
				if g.logger, err = cfg.Logging.NewLogger(); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "config.json", "path to the JSON config file")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(
		newCalculateCmd(g),
		newInventoryCmd(g),
		newReportCmd(g),
		newFactorsCmd(g),
		newMigrateCmd(g),
	)
	return cmd
}

// offlineAPI builds an in-memory stack that shares only the catalogs of the
// loaded config
func (g *globals) offlineAPI(ctx context.Context) (*v1.API, error) {
	cfg := config.Default()
	cfg.Factors = g.cfg.Factors
	cfg.Frameworks = g.cfg.Frameworks
	cfg.Logging = g.cfg.Logging

	api, err := v1.Setup(ctx, cfg, g.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up: %w", err)
	}
	return api, nil
}
