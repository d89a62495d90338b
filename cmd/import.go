package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codes-bot/internal/spreadsheet"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <reference.xlsx>",
		Short: "Copy a reference book into the configured dynamodb or sqlite source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			book, err := spreadsheet.NewReferenceBook(args[0])
			if err != nil {
				return err
			}
			entries, err := book.Fetch(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("%s has no entries", args[0])
			}

			dst, closer, err := buildWritableSource(ctx, cfg.Reference, &awsLoader{})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			if err := dst.Put(ctx, entries); err != nil {
				return err
			}
			logger.Info("reference imported", "from", book.Name(), "to", dst.Name(), "entries", len(entries))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries into %s\n", len(entries), dst.Name())
			return err
		},
	}
}
