package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/besim-project/besimd/internal/simulate"
)

var (
	simDeviceID       uint32
	simServerAddr     string
	simVersion        string
	simStatusInterval time.Duration
	simPingInterval   time.Duration
	simVerbose        bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated Besmart thermostat hub",
	Long: `Run a simulated Besmart-family thermostat hub for testing besimd
without real hardware.

The simulator dials a running besimd's UDP listener, reports STATUS
and PING uplinks on a timer, and answers downlink SET/PROGRAM/
SWVERSION commands the way the real device would.

Example:
  # In one terminal
  besimd run

  # In another
  besimd simulate --server 127.0.0.1:6199
`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Uint32Var(&simDeviceID, "device-id", 0x12345678, "simulated device id")
	simulateCmd.Flags().StringVar(&simServerAddr, "server", "127.0.0.1:6199", "besimd UDP address to dial")
	simulateCmd.Flags().StringVar(&simVersion, "version", "SIM-1.0.0", "reported firmware version string")
	simulateCmd.Flags().DurationVar(&simStatusInterval, "status-interval", 60*time.Second, "STATUS report interval")
	simulateCmd.Flags().DurationVar(&simPingInterval, "ping-interval", 30*time.Second, "PING interval")
	simulateCmd.Flags().BoolVarP(&simVerbose, "verbose", "v", false, "verbose output")
}

func runSimulate(_ *cobra.Command, _ []string) error {
	cfg := simulate.DefaultConfig()
	cfg.DeviceID = simDeviceID
	cfg.ServerAddr = simServerAddr
	cfg.Version = simVersion
	cfg.StatusInterval = simStatusInterval
	cfg.PingInterval = simPingInterval
	cfg.Verbose = simVerbose

	device := simulate.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := device.Start(ctx); err != nil {
		return fmt.Errorf("failed to start simulator: %w", err)
	}
	defer device.Stop()

	fmt.Printf("Simulated thermostat hub started\n")
	fmt.Printf("  Device id:      %#08x\n", cfg.DeviceID)
	fmt.Printf("  Server address: %s\n", cfg.ServerAddr)
	fmt.Printf("  Rooms:          %d\n", len(cfg.Rooms))
	fmt.Printf("  Status every:   %v\n", cfg.StatusInterval)
	fmt.Printf("  Ping every:     %v\n", cfg.PingInterval)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	return nil
}
