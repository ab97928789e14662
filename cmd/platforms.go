package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ota-answers-crawler/internal/seeds"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
)

// newPlatformsCmd lists the supported platforms with their manifest seed
// counts and effective request budgets. It does not open any store.
func newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "platforms",
		Short:       "List supported platforms and their crawl budgets",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			var manifest *seeds.Manifest
			if cfg.Seeds.File != "" {
				manifest, err = seeds.Load(cfg.Seeds.File)
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLATFORM\tSEEDS\tHOURLY CAP\tDELAY MS\tMAX ATTEMPTS\tMIN LENGTH")
			for _, p := range sources.NewRegistry(sources.Options{}).Platforms() {
				policy := cfg.RateLimit.PolicyFor(string(p))
				fmt.Fprintf(w, "%s\t%d\t%d\t%d-%d\t%d\t%d\n",
					p,
					len(manifest.For(p)),
					policy.HourlyCap,
					policy.MinDelayMs, policy.MaxDelayMs,
					policy.MaxAttempts,
					cfg.Parser.MinLengthFor(string(p)),
				)
			}
			return w.Flush()
		},
	}
}
