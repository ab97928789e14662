package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/seeds"
	"github.com/JakeFAU/ota-answers-crawler/internal/sources"
)

type crawlOptions struct {
	platform   string
	all        bool
	seedsFile  string
	urls       []string
	queries    []string
	categories []string
	feeds      []string
}

// seedList returns the flag supplied seeds in flag order.
func (o crawlOptions) seedList() []sources.Seed {
	var out []sources.Seed
	add := func(kind sources.SeedKind, values []string) {
		for _, v := range values {
			out = append(out, sources.Seed{Kind: kind, Value: v})
		}
	}
	add(sources.SeedURL, o.urls)
	add(sources.SeedCategory, o.categories)
	add(sources.SeedQuery, o.queries)
	add(sources.SeedFeed, o.feeds)
	return out
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one or more
// platform crawls in the foreground and prints each run summary as JSON.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one platform, or every platform in the seed manifest",
		Long: `Crawls the given platform using seeds from flags or, when none are
given, from the seed manifest. With --all every platform listed in the
manifest is crawled one after another.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.platform, "platform", "p", "", "platform to crawl (airbnb, viator, getyourguide, tripadvisor, stackoverflow, reddit, airhosts)")
	flags.BoolVar(&opts.all, "all", false, "crawl every platform listed in the seed manifest")
	flags.StringVar(&opts.seedsFile, "seeds", "", "seed manifest overriding seeds.file")
	flags.StringSliceVar(&opts.urls, "url", nil, "article, thread, or listing URL seed")
	flags.StringSliceVar(&opts.queries, "query", nil, "search query seed")
	flags.StringSliceVar(&opts.categories, "category", nil, "category seed (forum, subreddit, tag)")
	flags.StringSliceVar(&opts.feeds, "feed", nil, "RSS or Atom feed whose items become URL seeds")
	cmd.MarkFlagsMutuallyExclusive("platform", "all")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	manifest := a.Manifest
	if opts.seedsFile != "" {
		manifest, err = seeds.Load(opts.seedsFile)
		if err != nil {
			return err
		}
	}

	plan, err := planCrawls(opts, manifest)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	var failed []error
	for _, step := range plan {
		summary, err := a.Pipeline.Crawl(cmd.Context(), step.platform, step.seeds)
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", step.platform, err))
			continue
		}
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		if summary.Canceled {
			a.Logger.Warn("crawl canceled", zap.String("platform", string(step.platform)))
			return context.Canceled
		}
	}
	return errors.Join(failed...)
}

type crawlStep struct {
	platform crawler.Platform
	seeds    []sources.Seed
}

func planCrawls(opts crawlOptions, manifest *seeds.Manifest) ([]crawlStep, error) {
	flagSeeds := opts.seedList()
	if opts.all {
		if len(flagSeeds) > 0 {
			return nil, errors.New("seed flags need a single --platform")
		}
		platforms := manifest.Platforms()
		if len(platforms) == 0 {
			return nil, errors.New("--all needs a seed manifest with at least one platform")
		}
		plan := make([]crawlStep, 0, len(platforms))
		for _, p := range platforms {
			plan = append(plan, crawlStep{platform: p, seeds: manifest.For(p)})
		}
		return plan, nil
	}

	if opts.platform == "" {
		return nil, errors.New("one of --platform or --all is required")
	}
	platform, ok := crawler.ParsePlatform(opts.platform)
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", opts.platform)
	}
	list := flagSeeds
	if len(list) == 0 {
		list = manifest.For(platform)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no seeds for %s: pass --url/--query/--category/--feed or a manifest", platform)
	}
	for _, s := range list {
		if err := seeds.Validate(s); err != nil {
			return nil, err
		}
	}
	return []crawlStep{{platform: platform, seeds: list}}, nil
}
