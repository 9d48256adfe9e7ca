package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	subsampleOut       string
	subsampleShardSize int

	subsampleCmd = &cobra.Command{
		Use:   "subsample",
		Short: "Keep designs within a score percentile window and write them as new shards",
		RunE:  runSubsample,
	}
)

func init() {
	subsampleCmd.Flags().StringVarP(&subsampleOut, "out", "o", "", "directory to write the subsampled shards to")
	subsampleCmd.Flags().IntVar(&subsampleShardSize, "shard-size", 0, "designs per written shard (0 writes one shard)")
	subsampleCmd.Flags().Int("max-samples", 0, "cap on retained designs (0 keeps every design in the window)")
	subsampleCmd.Flags().Float64("min-percentile", 0, "lower score percentile")
	subsampleCmd.Flags().Float64("max-percentile", 100, "upper score percentile")
	_ = subsampleCmd.MarkFlagRequired("out")
	_ = loader.Viper().BindPFlag("subsample.max_samples", subsampleCmd.Flags().Lookup("max-samples"))
	_ = loader.Viper().BindPFlag("subsample.min_percentile", subsampleCmd.Flags().Lookup("min-percentile"))
	_ = loader.Viper().BindPFlag("subsample.max_percentile", subsampleCmd.Flags().Lookup("max-percentile"))
}

func runSubsample(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ds, closeFn, err := openDataset(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	before := ds.Size()
	if err := ds.Subsample(ctx, cfg.Subsample); err != nil {
		return err
	}
	out, err := ds.Materialize(ctx, subsampleOut, subsampleShardSize)
	if err != nil {
		return err
	}
	lo, hi := ds.Thresholds()
	fmt.Fprintf(cmd.OutOrStdout(), "kept %d of %d designs with scores in [%.6g, %.6g] into %s\n",
		out.Size(), before, lo, hi, subsampleOut)
	return printStats(cmd, out)
}
