package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/access"
	"github.com/monorkin/device-fleet-manager/internal/globals"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

var (
	reportFile    string
	reportFlags   registry.Report
	reportBattery int
	historyLimit  int

	maintenanceOff    bool
	maintenanceTicket string
)

// deviceCmd represents the device command
var deviceCmd = &cobra.Command{
	Use:     "device",
	Aliases: []string{"d", "devices"},
	Short:   "Manage and list devices",
	Long:    `Commands for inspecting the device registry and recording device reports.`,
}

var deviceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all known devices",
	Long:    `List all registered devices with their serial number, name, location, battery and last seen timestamp.`,
	Run:     runDeviceList,
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <serial_number>",
	Short: "Show one device and its command backlog",
	Args:  cobra.ExactArgs(1),
	Run:   runDeviceShow,
}

var deviceReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Record a device report",
	Long: `Record a report as if the device had sent it. Fields come from flags or,
with --file, from a JSON document in the device report format ("-" reads stdin).

Examples:
  device-fleet-manager device report --serial SN123 --name Matriz-01 --mac aa:bb:cc:dd:ee:01
  device-fleet-manager device report --file report.json`,
	Run: runDeviceReport,
}

var deviceHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <serial_number>",
	Short: "Mark a device as seen now",
	Args:  cobra.ExactArgs(1),
	Run:   runDeviceHeartbeat,
}

var deviceDeleteCmd = &cobra.Command{
	Use:     "delete <serial_number>",
	Aliases: []string{"rm"},
	Short:   "Remove a device from the registry",
	Args:    cobra.ExactArgs(1),
	Run:     runDeviceDelete,
}

var deviceHistoryCmd = &cobra.Command{
	Use:   "history <serial_number>",
	Short: "Show where a device has been",
	Args:  cobra.ExactArgs(1),
	Run:   runDeviceHistory,
}

var deviceMaintenanceCmd = &cobra.Command{
	Use:   "maintenance <serial_number>",
	Short: "Put a device into or out of maintenance",
	Args:  cobra.ExactArgs(1),
	Run:   runDeviceMaintenance,
}

func runDeviceList(cmd *cobra.Command, args []string) {
	globals.Logger.Debug("Fetching devices")

	devices, err := globals.Fleet.Registry.List(cmd.Context(), access.System)
	if err != nil {
		fail("list devices", err)
	}

	if jsonOutput {
		printJSON(devices)
		return
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}

	w := newTable()
	defer w.Flush()

	fmt.Fprintln(w, "SERIAL\tNAME\tSECTOR\tFLOOR\tBATTERY\tMAINTENANCE\tPROVISIONING\tLAST SEEN")
	fmt.Fprintln(w, "------\t----\t------\t-----\t-------\t-----------\t------------\t---------")

	for _, device := range devices {
		battery := "-"
		if device.Battery != nil {
			battery = strconv.Itoa(*device.Battery) + "%"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			orDash(device.SerialNumber),
			device.Name,
			device.Sector,
			device.Floor,
			battery,
			device.MaintenanceStatus,
			device.ProvisioningStatus,
			formatTime(device.LastSeen),
		)
	}

	globals.Logger.Debug("Device list completed", "count", len(devices))
}

func runDeviceShow(cmd *cobra.Command, args []string) {
	device, err := globals.Fleet.Registry.Get(cmd.Context(), access.System, args[0])
	if err != nil {
		fail("show device", err)
	}

	backlog, err := globals.Fleet.Queue.Backlog(cmd.Context(), access.System, args[0])
	if err != nil {
		fail("count pending commands", err)
	}

	printJSON(struct {
		*models.Device
		PendingCommands int64 `json:"pending_commands"`
	}{device, backlog})
}

func runDeviceReport(cmd *cobra.Command, args []string) {
	report, err := reportFromFlags(cmd)
	if err != nil {
		fail("read report", err)
	}

	device, err := globals.Fleet.Registry.UpsertFromReport(cmd.Context(), access.System, report)
	if err != nil {
		fail("record report", err)
	}

	if jsonOutput {
		printJSON(device)
		return
	}
	fmt.Printf("Recorded report for %s (sector %s, floor %s)\n", device.SerialNumber, device.Sector, device.Floor)
}

// reportFromFlags builds a report from --file or from the flags that were
// set. Unset flags stay nil so they do not overwrite stored values.
func reportFromFlags(cmd *cobra.Command) (registry.Report, error) {
	if reportFile != "" {
		return readReport(reportFile)
	}

	report := registry.Report{SerialNumber: reportFlags.SerialNumber, IMEI: reportFlags.IMEI}
	set := func(flag string, src *string, dst **string) {
		if cmd.Flags().Changed(flag) {
			*dst = registry.String(*src)
		}
	}
	set("name", reportFlags.Name, &report.Name)
	set("model", reportFlags.Model, &report.Model)
	set("mac", reportFlags.MacAddressRadio, &report.MacAddressRadio)
	set("ip", reportFlags.IPAddress, &report.IPAddress)
	set("network", reportFlags.Network, &report.Network)
	if cmd.Flags().Changed("battery") {
		report.Battery = registry.Int(reportBattery)
	}

	return report, nil
}

func readReport(path string) (registry.Report, error) {
	var report registry.Report

	file := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return report, err
		}
		defer f.Close()
		file = f
	}

	if err := json.NewDecoder(file).Decode(&report); err != nil {
		return report, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return report, nil
}

func runDeviceHeartbeat(cmd *cobra.Command, args []string) {
	device, err := globals.Fleet.Registry.Heartbeat(cmd.Context(), access.System, args[0])
	if err != nil {
		fail("record heartbeat", err)
	}
	fmt.Printf("Device %s last seen %s\n", device.SerialNumber, formatTime(device.LastSeen))
}

func runDeviceDelete(cmd *cobra.Command, args []string) {
	if err := globals.Fleet.Registry.Delete(cmd.Context(), access.System, args[0]); err != nil {
		fail("delete device", err)
	}
	fmt.Printf("Device %s deleted\n", args[0])
}

func runDeviceHistory(cmd *cobra.Command, args []string) {
	history, err := globals.Fleet.Registry.LocationHistory(cmd.Context(), access.System, args[0], historyLimit)
	if err != nil {
		fail("fetch location history", err)
	}

	if jsonOutput {
		printJSON(history)
		return
	}

	if len(history) == 0 {
		fmt.Println("No location changes recorded.")
		return
	}

	w := newTable()
	defer w.Flush()

	fmt.Fprintln(w, "TIMESTAMP\tBSSID\tSECTOR\tFLOOR")
	fmt.Fprintln(w, "---------\t-----\t------\t-----")
	for _, entry := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatTime(entry.Timestamp), entry.Bssid, entry.Sector, entry.Floor)
	}
}

func runDeviceMaintenance(cmd *cobra.Command, args []string) {
	now := time.Now().UTC()
	status := registry.MaintenanceEntered
	if maintenanceOff {
		status = registry.MaintenanceLeft
	}

	update := registry.MaintenanceUpdate{
		Status: !maintenanceOff,
		Ticket: maintenanceTicket,
		Entry:  &registry.MaintenanceRecord{Timestamp: &now, Status: status, Ticket: maintenanceTicket},
	}

	device, err := globals.Fleet.Registry.SetMaintenance(cmd.Context(), args[0], update)
	if err != nil {
		fail("update maintenance", err)
	}

	if jsonOutput {
		printJSON(device)
		return
	}
	fmt.Printf("Device %s maintenance=%t ticket=%s\n", device.SerialNumber, device.MaintenanceStatus, orDash(device.MaintenanceTicket))
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceListCmd, deviceShowCmd, deviceReportCmd, deviceHeartbeatCmd, deviceDeleteCmd, deviceHistoryCmd, deviceMaintenanceCmd)

	reportFlags.Name = new(string)
	reportFlags.Model = new(string)
	reportFlags.MacAddressRadio = new(string)
	reportFlags.IPAddress = new(string)
	reportFlags.Network = new(string)

	flags := deviceReportCmd.Flags()
	flags.StringVarP(&reportFile, "file", "f", "", "Read the report from a JSON file")
	flags.StringVar(&reportFlags.SerialNumber, "serial", "", "Serial number")
	flags.StringVar(&reportFlags.IMEI, "imei", "", "IMEI, used when the serial number is unknown")
	flags.StringVar(reportFlags.Name, "name", "", "Device name")
	flags.StringVar(reportFlags.Model, "model", "", "Device model")
	flags.StringVar(reportFlags.MacAddressRadio, "mac", "", "BSSID of the access point the device is connected to")
	flags.StringVar(reportFlags.IPAddress, "ip", "", "Device IPv4 address")
	flags.StringVar(reportFlags.Network, "network", "", "Network name")
	flags.IntVar(&reportBattery, "battery", 0, "Battery level in percent")

	deviceHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", registry.DefaultHistoryLimit, "Maximum number of entries")

	deviceMaintenanceCmd.Flags().BoolVar(&maintenanceOff, "off", false, "Leave maintenance instead of entering it")
	deviceMaintenanceCmd.Flags().StringVar(&maintenanceTicket, "ticket", "", "Maintenance ticket reference")
}
