package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/globals"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

var (
	verbose    bool
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "device-fleet-manager",
	Short: "Device fleet command and provisioning server",
	Long: `Keeps a registry of managed Android devices, queues commands for them,
and enrolls new devices with provisioning tokens.

Run "device-fleet-manager serve" to start the HTTP API. The remaining commands
operate on the local database directly with administrator rights.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := globals.Initialize(verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to initialize: %v\n", err)
			os.Exit(1)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// ExitCode maps an error to the process exit status. Each fault kind gets
// its own code so scripts can tell them apart.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return 1
	}
	switch fe.Kind {
	case fault.Validation:
		return 2
	case fault.NotFound:
		return 3
	case fault.Conflict:
		return 4
	case fault.Unauthorized:
		return 5
	}
	return 1
}

// fail reports err and exits with its code.
func fail(action string, err error) {
	globals.Logger.Error("Command failed", "action", action, "error", err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", action, err)
	os.Exit(ExitCode(err))
}

func printJSON(v any) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("format response", err)
	}
	fmt.Println(string(output))
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeFormat)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
