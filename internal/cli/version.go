package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// Skips the root initialization; printing the version needs no database.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
