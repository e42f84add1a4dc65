package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rtm0/ivt/internal/batch"
	"github.com/rtm0/ivt/internal/config"
	"github.com/rtm0/ivt/internal/ivt"
	"github.com/rtm0/ivt/internal/observability"
)

var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "ivt input_dir output_dir",
	Short: "Compute Integrated Vapor Transport for a directory of ERA5 files.",
	Long: `ivt integrates the moisture flux of every ERA5 pressure-level NetCDF file
in input_dir and writes one {name}_IVT.nc file per input to output_dir.

A file that cannot be processed is logged and skipped. Logging and metrics are
configured with the IVT_LOG_LEVEL, IVT_LOG_FORMAT and IVT_METRICS_FILE
environment variables.`,
	Args:              cobra.ExactArgs(2),
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfg)
		if err != nil {
			return err
		}
		logger := observability.NewLogger(os.Stdout, c)
		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o := batch.New(logger, ivt.NewEngine(logger), metrics)
		if _, err := o.Run(ctx, args[0], args[1], c.Workers); err != nil {
			logger.Error("Could not run the batch", "err", err)
			return err
		}
		if err := observability.WriteTextfile(c.MetricsFile, reg); err != nil {
			logger.Error("Could not write metrics", "file", c.MetricsFile, "err", err)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().Int(config.KeyWorkers, cfg.GetInt(config.KeyWorkers), "number of files processed concurrently")
	if err := cfg.BindPFlag(config.KeyWorkers, rootCmd.Flags().Lookup(config.KeyWorkers)); err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
