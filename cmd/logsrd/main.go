package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	inspectcmd "github.com/rzbill/logsrd/internal/cmd/inspect"
	logscmd "github.com/rzbill/logsrd/internal/cmd/logs"
	serverrun "github.com/rzbill/logsrd/internal/cmd/server"
	cfgpkg "github.com/rzbill/logsrd/internal/config"
	logpkg "github.com/rzbill/logsrd/pkg/log"
)

func main() {
	// initialize logger for CLI
	// Respect LOGSRD_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("LOGSRD_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.WarnLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	var configPath string
	loadConfig := func() (cfgpkg.Config, error) {
		cfg := cfgpkg.Default()
		if configPath != "" {
			var err error
			if cfg, err = cfgpkg.Load(configPath); err != nil {
				return cfg, err
			}
		}
		cfgpkg.FromEnv(&cfg)
		return cfg, cfg.Validate()
	}

	rootCmd := &cobra.Command{
		Use:          "logsrd",
		Short:        "logsrd log store CLI",
		Long:         "logsrd is a log-structured storage engine. This CLI runs the engine and works with its files.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("LOGSRD_CONFIG"), "Config file (JSON)")

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Open the store and run background compaction until interrupted",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
				cfg.DataDir = dataDir
			}
			if fsync, _ := cmd.Flags().GetString("fsync"); fsync != "" {
				cfg.Fsync = fsync
			}
			if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat, _ := cmd.Flags().GetString("log-format"); logFormat != "" {
				cfg.Log.Format = logFormat
			}
			if cmd.Flags().Changed("compact-interval") {
				d, _ := cmd.Flags().GetDuration("compact-interval")
				cfg.CompactInterval = cfgpkg.Duration(d)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			metricsAddr, _ := cmd.Flags().GetString("metrics")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg, MetricsAddr: metricsAddr}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|never")
	serverStartCmd.Flags().Duration("compact-interval", 0, "How often compaction thresholds are checked (0 disables)")
	serverStartCmd.Flags().String("metrics", os.Getenv("LOGSRD_METRICS_ADDR"), "Prometheus /metrics listen address (optional)")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(inspectcmd.NewCommand())
	rootCmd.AddCommand(logscmd.NewLogCommand(loadConfig, logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
