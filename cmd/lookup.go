package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codes-bot/internal/lookup"
)

func newLookupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <article>...",
		Short: "Load the reference source and print the barcode of each article",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			source, closer, err := buildSource(ctx, cfg.Reference, &awsLoader{})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			cache, err := lookup.New(source)
			if err != nil {
				return err
			}
			if err := cache.Load(ctx, true); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			missing := 0
			for _, key := range args {
				value, ok := cache.Resolve(key)
				if !ok {
					missing++
					value = "(not found)"
				}
				if _, err := fmt.Fprintf(out, "%s\t%s\n", key, value); err != nil {
					return err
				}
			}
			if missing > 0 {
				return fmt.Errorf("%d of %d article(s) not found in %s (%d entries)", missing, len(args), cache.SourceName(), cache.Size())
			}
			return nil
		},
	}
}
