package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rhuss/weiche/pkg/config"
	"github.com/rhuss/weiche/pkg/router"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if err := checkRouting(cmd.Context(), cfg); err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

// checkRouting builds the adapters and the router without calling any
// vendor, which catches inconsistencies config.Validate cannot see. Vertex
// without a static token resolves default credentials here.
func checkRouting(ctx context.Context, cfg *config.Config) error {
	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	_, err = router.New(router.Config{
		AllowedModels: cfg.AllowedModels(),
		Failover:      cfg.Failover(),
		GoogleStrict:  cfg.Grounding.GoogleStrict,
	}, adapters)
	if err != nil {
		return fmt.Errorf("routing: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "configuration OK")

	allowed := cfg.AllowedModels()
	vendors := slices.Sorted(maps.Keys(allowed))
	for _, v := range vendors {
		fmt.Fprintf(w, "  vendor   %-14s %d model(s)\n", v, len(allowed[v]))
	}
	for _, from := range slices.Sorted(maps.Keys(cfg.Routing.Failover)) {
		fmt.Fprintf(w, "  failover %s -> %s\n", from, cfg.Routing.Failover[from])
	}
	fmt.Fprintf(w, "  storage  %s\n", cfg.Storage.Type)
	fmt.Fprintf(w, "  auth     %s\n", cfg.Auth.Type)
	fmt.Fprintf(w, "  cache    %s\n", cfg.Citations.Cache.Type)
}
