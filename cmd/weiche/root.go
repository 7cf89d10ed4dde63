package main

import (
	"github.com/spf13/cobra"

	"github.com/rhuss/weiche/pkg/config"
	"github.com/rhuss/weiche/pkg/debug"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "weiche",
		Short:         "Multi-vendor LLM dispatch gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config yaml path")

	cmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newDispatchCmd(opts),
	)
	return cmd
}

// loadConfig loads the configuration and installs the logger it describes.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	l := cfg.Observability.Logging
	debug.Init(debug.Options{
		Categories: l.Debug,
		Level:      l.Level,
		Format:     l.Format,
	})
	return cfg, nil
}
