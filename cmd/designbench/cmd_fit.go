package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot/plotter"

	"github.com/Noofbiz/designBench/datasets"
	"github.com/Noofbiz/designBench/tasks"
)

var (
	plotPath   string
	plotPoints int

	fitCmd = &cobra.Command{
		Use:   "fit",
		Short: "Fit (or load) the oracle for the configured dataset and report its rank correlation",
		RunE:  runFit,
	}
)

func init() {
	fitCmd.Flags().String("model", "knn", "oracle model: mlp or knn")
	fitCmd.Flags().String("save", "", "where to save the fitted oracle (overrides oracle.path)")
	fitCmd.Flags().Float64("noise", 0, "standard deviation of noise added to oracle predictions")
	fitCmd.Flags().StringVar(&plotPath, "plot", "", "if set, write a predicted-vs-true scatter PNG here")
	fitCmd.Flags().IntVar(&plotPoints, "plot-points", 2000, "maximum number of designs drawn in the scatter")
	_ = loader.Viper().BindPFlag("oracle.model", fitCmd.Flags().Lookup("model"))
	_ = loader.Viper().BindPFlag("oracle.path", fitCmd.Flags().Lookup("save"))
	_ = loader.Viper().BindPFlag("oracle.noise_std", fitCmd.Flags().Lookup("noise"))
}

func runFit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ds, closeFn, err := openDataset(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	model, err := newModel(cfg)
	if err != nil {
		return err
	}
	task, err := tasks.Make(ctx, ds, model, cfg.Oracle.Config)
	if err != nil {
		return err
	}

	p := task.OracleParams()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "oracle:           %s (%s)\n", task.Oracle().Name(), cfg.Oracle.Model)
	fmt.Fprintf(out, "expected format:  %s\n", task.Oracle().ExpectedTransform().Format)
	fmt.Fprintf(out, "train / val:      %d / %d\n", p.TrainSize, p.ValSize)
	fmt.Fprintf(out, "rank correlation: %.4f\n", p.RankCorrelation)

	if plotPath == "" {
		return nil
	}
	identity, points, err := scatterPoints(cmd, task, plotPoints)
	if err != nil {
		return err
	}
	if err := plotScatter(plotPath, task.Oracle().Name(), identity, points); err != nil {
		return err
	}
	log.Info().Str("path", plotPath).Int("points", len(points)).Msg("wrote scatter plot")
	return nil
}

// scatterPoints pairs the raw scores of up to n random designs with the
// oracle's predictions for them. It also returns the identity line over the
// range of true scores.
func scatterPoints(cmd *cobra.Command, task *tasks.Task, n int) (identity, points plotter.XYs, err error) {
	ctx := cmd.Context()
	it, err := task.IterateBatches(ctx, datasets.BatchOptions{BatchSize: n, Shuffle: true, Seed: cfg.Oracle.Seed})
	if err != nil {
		return nil, nil, err
	}
	b, err := it.Next(ctx)
	if err != nil {
		return nil, nil, err
	}
	y, err := task.Predict(ctx, b.X)
	if err != nil {
		return nil, nil, err
	}
	tr := it.Transform()
	raw, err := tr.InverseY(y)
	if err != nil {
		return nil, nil, err
	}
	truth, err := tr.InverseY(b.Y)
	if err != nil {
		return nil, nil, err
	}

	points = make(plotter.XYs, b.Size())
	lo, hi := float64(truth.Floats[0]), float64(truth.Floats[0])
	for i := range points {
		points[i] = plotter.XY{X: float64(truth.Floats[i]), Y: float64(raw.Floats[i])}
		lo = min(lo, points[i].X)
		hi = max(hi, points[i].X)
	}
	identity = plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}}
	return identity, points, nil
}
