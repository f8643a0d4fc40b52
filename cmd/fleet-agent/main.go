package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/agent"
	"github.com/monorkin/device-fleet-manager/agent/api"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

var (
	serverURL   string
	apiToken    string
	enrollToken string
	serial      string
	deviceName  string
	macAddress  string
	ipAddress   string
	interval    time.Duration
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "fleet-agent",
	Short: "Device side agent for the device fleet manager",
	Long: `Reports this device to the fleet server, executes the commands queued for it
and sends back their outcome. Without --server the server is discovered over mDNS.`,
	SilenceUsage: true,
	RunE:         run,
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClientWithLogger(serverURL, apiToken, logger)
	if serverURL == "" {
		if _, err := client.DiscoverServer(ctx); err != nil {
			return err
		}
	}

	report := registry.Report{SerialNumber: serial}
	if deviceName != "" {
		report.Name = registry.String(deviceName)
	}
	if macAddress != "" {
		report.MacAddressRadio = registry.String(macAddress)
	}
	if ipAddress != "" {
		report.IPAddress = registry.String(ipAddress)
	}

	a := agent.New(client, agent.LogExecutor{Logger: logger}, agent.Config{
		Report:      report,
		Interval:    interval,
		EnrollToken: enrollToken,
	}, logger)

	return a.Run(ctx)
}

func main() {
	flags := rootCmd.Flags()
	flags.StringVar(&serverURL, "server", "", "Fleet server base URL")
	flags.StringVar(&apiToken, "token", os.Getenv("FLEET_AGENT_TOKEN"), "Operator API token")
	flags.StringVar(&enrollToken, "enroll", "", "Provisioning token to enroll with")
	flags.StringVar(&serial, "serial", "", "Serial number of this device")
	flags.StringVar(&deviceName, "name", "", "Device name")
	flags.StringVar(&macAddress, "mac", "", "BSSID of the connected access point")
	flags.StringVar(&ipAddress, "ip", "", "IPv4 address of this device")
	flags.DurationVar(&interval, "interval", agent.DefaultInterval, "Time between report cycles")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
