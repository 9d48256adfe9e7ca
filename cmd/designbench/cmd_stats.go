package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/designBench/datasets"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the size, shape and score distribution of the configured dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, closeFn, err := openDataset(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		return printStats(cmd, ds)
	},
}

func printStats(cmd *cobra.Command, ds *datasets.Dataset) error {
	ctx := cmd.Context()
	tr, err := ds.Transform(ctx)
	if err != nil {
		return err
	}
	canonical := datasets.Format{}
	var scores []float64
	err = ds.ForEachBatch(ctx, datasets.BatchOptions{Format: &canonical}, func(b datasets.Batch) error {
		for _, v := range b.Y.Floats {
			scores = append(scores, float64(v))
		}
		return nil
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	xShards, yShards := ds.Shards()
	fmt.Fprintf(out, "dataset:      %s (%s)\n", ds.Name, ds.Kind())
	fmt.Fprintf(out, "designs:      %d\n", ds.Size())
	fmt.Fprintf(out, "shards:       %d x, %d y\n", xShards, yShards)
	fmt.Fprintf(out, "input:        %v %s\n", ds.InputShape(), ds.InputDType())
	if ds.Kind() == datasets.Discrete {
		fmt.Fprintf(out, "classes:      %d\n", ds.NumClasses())
	}
	fmt.Fprintf(out, "format:       %s\n", ds.Format())
	if tr.Y != nil {
		fmt.Fprintf(out, "score moments: mean %.6g std %.6g\n", tr.Y.Mean[0], tr.Y.Std[0])
	}
	writeSummary(out, scores)
	return nil
}

// writeSummary prints the quantiles of raw scores.
func writeSummary(out io.Writer, scores []float64) {
	if len(scores) == 0 {
		fmt.Fprintln(out, "scores:       none")
		return
	}
	q := quantiles(scores, 0, 0.25, 0.5, 0.75, 1)
	fmt.Fprintf(out, "scores:       min %.6g  q1 %.6g  median %.6g  q3 %.6g  max %.6g\n", q[0], q[1], q[2], q[3], q[4])
}
