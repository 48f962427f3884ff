package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wildfire-harvester/internal/manifest"
)

func newSplitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splits",
		Short: "Inspect the train/val/test split manifests",
	}
	check := &cobra.Command{
		Use:   "check",
		Short: "Print partition sizes and overlapping basenames",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return checkSplits(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(check)
	return cmd
}

func checkSplits(ctx context.Context, out io.Writer) error {
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	index, err := manifest.LoadSplitIndex(e.cfg.Splits.Files)
	if err != nil {
		return fmt.Errorf("load split manifests: %w", err)
	}
	for _, p := range index.Partitions() {
		fmt.Fprintf(out, "%-8s %d\n", p, index.Size(p))
	}
	overlaps := index.Overlaps()
	if len(overlaps) == 0 {
		fmt.Fprintln(out, "no overlaps")
		return nil
	}
	for _, o := range overlaps {
		fmt.Fprintf(out, "overlap %s/%s: %d basename(s), %s wins\n", o.Left, o.Right, o.Count, o.Left)
	}
	return nil
}
