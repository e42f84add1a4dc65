package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rtm0/ivt/internal/acquire"
	"github.com/rtm0/ivt/internal/cds"
	"github.com/rtm0/ivt/internal/config"
	"github.com/rtm0/ivt/internal/observability"
)

var (
	cfg      = config.New()
	years    []int
	outDir   string
	planFile string
)

var rootCmd = &cobra.Command{
	Use:   "era5fetch",
	Short: "Download ERA5 pressure-level data for IVT.",
	Long: `era5fetch downloads ERA5 specific humidity and wind on pressure levels from
the Copernicus Climate Data Store, one {year}_part{N}.nc file per quarter.

Each request is attempted up to 5 times, 10 seconds apart. A partition that
still fails is reported and the remaining ones are fetched anyway.

Credentials are read from CDSAPI_URL and CDSAPI_KEY or from ~/.cdsapirc
(overridden by CDSAPI_RC).`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfg)
		if err != nil {
			return err
		}
		logger := observability.NewLogger(os.Stdout, c)

		plan := acquire.DefaultPlan()
		if planFile != "" {
			if plan, err = acquire.LoadPlan(planFile); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("years") || planFile == "" {
			plan.Years = years
		}
		if err := plan.Validate(); err != nil {
			return err
		}

		creds, err := cds.LoadCredentials(c.CDSURL, c.CDSKey, c.CDSRC)
		if err != nil {
			return err
		}
		client, err := cds.NewClient(logger, creds, 4)
		if err != nil {
			logger.Error("Could not create new CDS client", "err", err)
			return err
		}

		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var failed int
		for _, res := range acquire.NewStage(logger, client, metrics).Run(ctx, plan, outDir) {
			if res.Err != nil {
				failed++
			}
		}
		logger.Info("Acquisition complete", "partitions", len(plan.Partitions()), "failed", failed)
		if err := observability.WriteTextfile(c.MetricsFile, reg); err != nil {
			logger.Error("Could not write metrics", "file", c.MetricsFile, "err", err)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().IntSliceVar(&years, "years", []int{2024}, "years to download")
	rootCmd.Flags().StringVar(&outDir, "out-dir", ".", "directory the files are written to")
	rootCmd.Flags().StringVar(&planFile, "plan", "", "YAML file overriding the request parameters")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
