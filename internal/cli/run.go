package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/config"
	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/internal/service"
	"github.com/besim-project/besimd/internal/tui"
)

var (
	dryRun      bool
	interactive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start besimd",
	Long: `Start besimd: bind the UDP listener, open the device shadow store
and serve the HTTP control API.

Use --interactive or -i to run with a read-only terminal monitor
instead of logging to stdout.`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate configuration without starting the service")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "run with interactive TUI")
}

func runService(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	// For interactive mode, keep stdout clear for the TUI.
	if interactive {
		logCfg.Format = "console"
		logCfg.Level = "error"
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		logging.Info("using config file", zap.String("path", cfgFile))
	}

	if dryRun {
		fmt.Println("Configuration is valid!")
		fmt.Printf("  Database:     %s\n", cfg.Database.Path)
		fmt.Printf("  UDP address:  %s\n", cfg.UDP.Addr)
		fmt.Printf("  HTTP address: %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
		fmt.Printf("  Weather:      lat=%g lon=%g\n", cfg.Weather.Latitude, cfg.Weather.Longitude)
		if cfg.MQTT.Broker != "" {
			fmt.Printf("  MQTT broker:  %s\n", cfg.MQTT.Broker)
		} else {
			fmt.Printf("  MQTT:         disabled\n")
		}
		return nil
	}

	svc, err := service.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if interactive {
		go func() {
			<-sigChan
			cancel()
		}()

		if err := tui.Run(svc.Store()); err != nil {
			logging.Error("tui error", zap.Error(err))
		}
	} else {
		logging.Info("besimd is running, press Ctrl+C to stop")
		<-sigChan
		logging.Info("received shutdown signal")
	}

	if err := svc.Stop(); err != nil {
		logging.Error("error stopping service", zap.Error(err))
	}

	return nil
}
