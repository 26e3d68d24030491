package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"contractwatch/internal/app"
	"contractwatch/internal/config"
	"contractwatch/internal/logging"
	"contractwatch/internal/usecase"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "contractwatch",
		Short: "Track public marketplace contracts and keep their appraisals fresh",
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(discoverCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var rearm bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the discovery loop and the revalidation clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.Logging.Level)

			application, err := app.New(cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx, rearm)
		},
	}

	cmd.Flags().BoolVar(&rearm, "rearm", false, "re-arm every stored contract on startup")
	return cmd
}

func discoverCmd() *cobra.Command {
	var (
		batchSize int
		skipPages bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a single discovery pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.Logging.Level)

			application, err := app.New(cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return application.Discover(ctx, usecase.DiscoveryOptions{
				BatchSize: batchSize,
				SkipPages: skipPages,
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "cap on new contracts persisted this pass (default from config)")
	cmd.Flags().BoolVar(&skipPages, "skip-pages", false, "only fetch the first page of each region")
	return cmd
}
