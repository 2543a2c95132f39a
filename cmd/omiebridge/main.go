package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"omiebridge/internal/config"
	"omiebridge/internal/stock"
	"omiebridge/internal/telemetry"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := serveCmd()
	rootCmd.Use = "omiebridge"
	rootCmd.Short = "Omie ERP stock and catalog bridge"
	rootCmd.Version = Version
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(stockCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(cfg *config.Config) error {
				return runServer(cfg, addr)
			})
		},
	}
	cmd.Flags().String("addr", "", "Address to bind (defaults to :$PORT)")
	return cmd
}

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estoque",
		Short: "Run one stock aggregation and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(cfg *config.Config) error {
				svcs, err := newServices(cfg)
				if err != nil {
					return err
				}
				resp, _, err := svcs.stock.Fetch(cmd.Context(), stock.Options{Debug: debug})
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			})
		},
	}
	cmd.Flags().Bool("debug", false, "Attach join diagnostics")
	return cmd
}

// withRuntime loads configuration and telemetry around run, flushing exporters afterwards.
func withRuntime(ctx context.Context, run func(cfg *config.Config) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	tel, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	slog.SetDefault(tel.Logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
	}()
	return run(cfg)
}
