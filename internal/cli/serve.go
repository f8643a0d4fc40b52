package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/discovery"
	"github.com/monorkin/device-fleet-manager/internal/globals"
	"github.com/monorkin/device-fleet-manager/internal/server"
	"github.com/monorkin/device-fleet-manager/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on the configured listen address, advertise it over
mDNS so agents can find it, and publish fleet events to AMQP when configured.`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopEvents, err := globals.ConnectEvents(ctx)
	if err != nil {
		fail("connect to AMQP", err)
	}
	defer stopEvents()

	if globals.Settings.AdvertiseMDNS {
		advertiser, err := discovery.Advertise(ctx, globals.Settings.ListenAddress, version.GetVersion(), globals.Logger)
		if err != nil {
			// The API is still reachable by address.
			globals.Logger.Warn("mDNS advertisement unavailable", "error", err)
		} else {
			defer advertiser.Shutdown()
		}
	}

	srv := server.New(globals.Settings, globals.Fleet, globals.Logger)
	if err := srv.Start(ctx); err != nil {
		fail("serve", err)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

