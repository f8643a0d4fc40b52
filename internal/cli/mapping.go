package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/globals"
)

var bssidCmd = &cobra.Command{
	Use:   "bssid",
	Short: "Map access point BSSIDs to sectors and floors",
}

var bssidAddCmd = &cobra.Command{
	Use:   "add <mac_address> <sector> <floor>",
	Short: "Add a BSSID mapping",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		mapping, err := globals.Fleet.Catalog.AddBssid(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			fail("add BSSID", err)
		}
		fmt.Printf("Mapped %s to sector %s, floor %s\n", mapping.MacAddressRadio, mapping.Sector, mapping.Floor)
	},
}

var bssidUpdateCmd = &cobra.Command{
	Use:   "update <mac_address> <sector> <floor>",
	Short: "Change the sector and floor of a BSSID",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		mapping, err := globals.Fleet.Catalog.UpdateBssid(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			fail("update BSSID", err)
		}
		fmt.Printf("Mapped %s to sector %s, floor %s\n", mapping.MacAddressRadio, mapping.Sector, mapping.Floor)
	},
}

var bssidListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List BSSID mappings",
	Run: func(cmd *cobra.Command, args []string) {
		mappings, err := globals.Fleet.Catalog.Bssids(cmd.Context())
		if err != nil {
			fail("list BSSIDs", err)
		}

		if jsonOutput {
			printJSON(mappings)
			return
		}

		w := newTable()
		defer w.Flush()

		fmt.Fprintln(w, "BSSID\tSECTOR\tFLOOR")
		fmt.Fprintln(w, "-----\t------\t-----")
		for _, m := range mappings {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.MacAddressRadio, m.Sector, m.Floor)
		}
	},
}

var bssidRemoveCmd = &cobra.Command{
	Use:     "rm <mac_address>",
	Aliases: []string{"delete"},
	Short:   "Remove a BSSID mapping",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := globals.Fleet.Catalog.RemoveBssid(cmd.Context(), args[0]); err != nil {
			fail("remove BSSID", err)
		}
		fmt.Printf("BSSID %s removed\n", args[0])
	},
}

var unitCmd = &cobra.Command{
	Use:     "unit",
	Aliases: []string{"units"},
	Short:   "Map IPv4 ranges to organizational units",
}

var unitAddCmd = &cobra.Command{
	Use:   "add <name> <ip_range_start> <ip_range_end>",
	Short: "Add a unit",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		unit, err := globals.Fleet.Catalog.AddUnit(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			fail("add unit", err)
		}
		fmt.Printf("Unit %s covers %s - %s\n", unit.Name, unit.IPRangeStart, unit.IPRangeEnd)
	},
}

var unitUpdateCmd = &cobra.Command{
	Use:   "update <name> <new_name> <ip_range_start> <ip_range_end>",
	Short: "Rename a unit or change its range",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		unit, err := globals.Fleet.Catalog.UpdateUnit(cmd.Context(), args[0], args[1], args[2], args[3])
		if err != nil {
			fail("update unit", err)
		}
		fmt.Printf("Unit %s covers %s - %s\n", unit.Name, unit.IPRangeStart, unit.IPRangeEnd)
	},
}

var unitListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List units",
	Run: func(cmd *cobra.Command, args []string) {
		units, err := globals.Fleet.Catalog.Units(cmd.Context())
		if err != nil {
			fail("list units", err)
		}

		if jsonOutput {
			printJSON(units)
			return
		}

		w := newTable()
		defer w.Flush()

		fmt.Fprintln(w, "NAME\tSTART\tEND")
		fmt.Fprintln(w, "----\t-----\t---")
		for _, u := range units {
			fmt.Fprintf(w, "%s\t%s\t%s\n", u.Name, u.IPRangeStart, u.IPRangeEnd)
		}
	},
}

var unitRemoveCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"delete"},
	Short:   "Remove a unit",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := globals.Fleet.Catalog.RemoveUnit(cmd.Context(), args[0]); err != nil {
			fail("remove unit", err)
		}
		fmt.Printf("Unit %s removed\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(bssidCmd, unitCmd)
	bssidCmd.AddCommand(bssidAddCmd, bssidUpdateCmd, bssidListCmd, bssidRemoveCmd)
	unitCmd.AddCommand(unitAddCmd, unitUpdateCmd, unitListCmd, unitRemoveCmd)
}
