package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Noofbiz/designBench/config"
	"github.com/Noofbiz/designBench/datasets"
	"github.com/Noofbiz/designBench/neighbors"
	"github.com/Noofbiz/designBench/oracles"
	"github.com/Noofbiz/designBench/resource"
	"github.com/Noofbiz/designBench/simple"
)

var (
	configPath string
	loader     = config.NewLoader()
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:           "designbench",
		Short:         "Inspect offline optimization datasets and fit their oracles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = loader.Load(configPath); err != nil {
				return err
			}
			setupLogging(cfg.Level())
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML, JSON or TOML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "trace, debug, info, warn, error or disabled")
	rootCmd.PersistentFlags().String("data-root", "data", "directory relative shard paths resolve against")
	_ = loader.Viper().BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = loader.Viper().BindPFlag("data.root", rootCmd.PersistentFlags().Lookup("data-root"))

	rootCmd.AddCommand(statsCmd, fitCmd, subsampleCmd)
}

func setupLogging(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05.000",
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%-6s", i))
		},
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("designbench failed")
		os.Exit(1)
	}
}

// newStore builds the resource store described by c.
func newStore(c *config.Config) (*resource.Store, func(), error) {
	if err := c.Data.Validate(); err != nil {
		return nil, nil, err
	}
	store := resource.NewStore(c.Data)
	web := resource.NewHTTPFetcher(&http.Client{Timeout: c.HTTPTimeout})
	store.Register("http", web)
	store.Register("https", web)
	closeFn := func() {}
	if c.GCS {
		gcs := resource.NewGCSFetcher(nil)
		store.Register("gs", gcs)
		closeFn = func() {
			if err := gcs.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close storage client")
			}
		}
	}
	return store, closeFn, nil
}

// openDataset opens the configured dataset and applies its configured format.
func openDataset(ctx context.Context, c *config.Config) (*datasets.Dataset, func(), error) {
	store, closeFn, err := newStore(c)
	if err != nil {
		return nil, nil, err
	}
	opts := c.Dataset.Options
	if c.Dataset.CacheBytes > 0 {
		if opts.Cache, err = datasets.NewShardCache(c.Dataset.CacheBytes); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	xs, ys := store.Resources(c.Dataset.X), store.Resources(c.Dataset.Y)

	var ds *datasets.Dataset
	if c.Dataset.DatasetKind() == datasets.Discrete {
		ds, err = datasets.NewDiscreteDataset(ctx, xs, ys, opts)
	} else {
		ds, err = datasets.NewContinuousDataset(ctx, xs, ys, opts)
	}
	if err == nil {
		err = ds.SetFormat(ctx, c.Dataset.Format)
	}
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return ds, closeFn, nil
}

// newModel returns an untrained oracle model of the configured type.
func newModel(c *config.Config) (oracles.Model, error) {
	switch c.Oracle.Model {
	case "mlp":
		return simple.NewModel(c.Oracle.MLP)
	case "knn":
		return neighbors.NewModel(c.Oracle.KNN)
	default:
		return nil, fmt.Errorf("unknown oracle model %q", c.Oracle.Model)
	}
}
