package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/orgchart/modules/orgchart/domain/orggraph"
	"github.com/iota-uz/orgchart/modules/orgchart/infrastructure/treesource"
	"github.com/iota-uz/orgchart/modules/orgchart/presentation/mappers"
	"github.com/iota-uz/orgchart/modules/orgchart/services"
)

type layoutOptions struct {
	file           string
	apiURL         string
	token          string
	timeout        time.Duration
	direction      string
	rankSpacing    float64
	siblingSpacing float64
	raw            bool
	pretty         bool
}

func newLayoutCmd() *cobra.Command {
	var opts layoutOptions

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Fetch a hierarchy and print the positioned graph as JSON",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			opts.direction = strings.ToUpper(strings.TrimSpace(opts.direction))
			if !orggraph.Direction(opts.direction).Valid() {
				return withCode(exitUsage, fmt.Errorf("invalid --direction %q (expected TB|LR)", opts.direction))
			}
			if (opts.file == "") == (opts.apiURL == "") {
				return withCode(exitUsage, fmt.Errorf("exactly one of --file or --api-url is required"))
			}
			if opts.rankSpacing < 0 || opts.siblingSpacing < 0 {
				return withCode(exitUsage, fmt.Errorf("spacing must be non-negative"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "JSON seed file with records and permissions")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "Base URL of the hierarchy API")
	cmd.Flags().StringVar(&opts.token, "token", "", "Authorization header value for --api-url")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout for --api-url")
	cmd.Flags().StringVar(&opts.direction, "direction", string(orggraph.TopToBottom), "Layout direction (TB|LR)")
	cmd.Flags().Float64Var(&opts.rankSpacing, "rank-spacing", orggraph.DefaultRankSpacing, "Gap between depth levels")
	cmd.Flags().Float64Var(&opts.siblingSpacing, "sibling-spacing", orggraph.DefaultSiblingSpacing, "Gap between siblings")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print the store view instead of the canvas view model")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent the output")
	return cmd
}

func layoutSource(opts layoutOptions) (services.TreeSource, error) {
	if opts.file != "" {
		seed, err := treesource.LoadSeed(opts.file)
		if err != nil {
			return nil, withCode(exitSource, err)
		}
		return treesource.NewMemorySource(seed), nil
	}
	client, err := treesource.NewHTTPClient(treesource.HTTPClientOptions{
		BaseURL:       opts.apiURL,
		Authorization: opts.token,
		Timeout:       opts.timeout,
	})
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return client, nil
}

func runLayout(ctx context.Context, opts layoutOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	source, err := layoutSource(opts)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	store := services.NewGraphStore(source,
		services.WithDirection(orggraph.Direction(opts.direction)),
		services.WithLayoutOptions(orggraph.LayoutOptions{
			RankSpacing:    opts.rankSpacing,
			SiblingSpacing: opts.siblingSpacing,
		}),
		services.WithLogger(log),
	)
	if err := store.Load(ctx); err != nil {
		if orggraph.IsMalformedTree(err) {
			return withCode(exitMalformed, err)
		}
		return withCode(exitSource, err)
	}

	view := store.Snapshot()
	if opts.raw {
		return writeJSON(out, view, opts.pretty)
	}
	return writeJSON(out, mappers.GraphToViewModel(view), opts.pretty)
}
