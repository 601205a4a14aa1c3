package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"MacroPulse/internal/di"
	"MacroPulse/pkg/config"
	"MacroPulse/pkg/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("macropulse: %v", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "macropulse",
		Short:         "Macro signal aggregation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(cycleCmd(&configPath))
	return root
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled cycles and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := initApp(*configPath)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func cycleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one cycle and print the report as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := initApp(*configPath)
			if err != nil {
				return err
			}
			report, err := app.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func initApp(path string) (*server.App, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	log.Printf("env=%s indicators=%d sources=%d", cfg.Environment, len(cfg.Indicators), len(cfg.Sources))

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}
