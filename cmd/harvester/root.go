package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/wildfire-harvester/internal/config"
	"github.com/JakeFAU/wildfire-harvester/internal/logging"
)

// envKeyType is the key for storing the command env in the context.
type envKeyType struct{}

// env is built once per invocation and shared with subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Export satellite imagery for wildfire detection events.",
		Long: `harvester walks a manifest of geocoded wildfire detections, finds the
closest Sentinel-2 image for each event and starts one Earth Engine export per
event into the train/val/test folders of a Cloud Storage bucket.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and logging are ready before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.FromConfig(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "human-friendly development logging")
	bindFlag(v, cmd, "logging.level", "log-level")
	bindFlag(v, cmd, "logging.development", "dev")

	cmd.AddCommand(newExportCmd(v), newTasksCmd(), newSplitsCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

// bindFlag lets a flag override the config key when set. A missing flag is a
// programming error.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, name string) {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}
