package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/access"
	"github.com/monorkin/device-fleet-manager/internal/commands"
	"github.com/monorkin/device-fleet-manager/internal/globals"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

var (
	commandParams string
	resultFailed  bool
	resultMessage string
	resultSerial  string
	listSerial    string
	listStatus    string
)

var commandCmd = &cobra.Command{
	Use:     "command",
	Aliases: []string{"c", "commands"},
	Short:   "Queue commands for devices and inspect their outcome",
}

var commandSendCmd = &cobra.Command{
	Use:   "send <serial_number> <command>",
	Short: "Queue a command for a device",
	Long: `Queue a command for a device. Parameters are given as a JSON object.
set_maintenance is applied immediately instead of being queued.

Examples:
  device-fleet-manager command send SN123 reboot
  device-fleet-manager command send SN123 install_app --params '{"package_name":"com.acme.app","apk_url":"https://example.com/app.apk"}'
  device-fleet-manager command send SN123 set_maintenance --params '{"maintenance_status":true}'`,
	Args: cobra.ExactArgs(2),
	Run:  runCommandSend,
}

var commandPollCmd = &cobra.Command{
	Use:   "poll <serial_number>",
	Short: "Claim the pending commands of a device, as the device would",
	Args:  cobra.ExactArgs(1),
	Run:   runCommandPoll,
}

var commandResultCmd = &cobra.Command{
	Use:   "result <command_id> [result]",
	Short: "Report the outcome of a sent command",
	Args:  cobra.RangeArgs(1, 2),
	Run:   runCommandResult,
}

var commandListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List commands, newest first",
	Run:     runCommandList,
}

func runCommandSend(cmd *cobra.Command, args []string) {
	req := commands.Request{SerialNumber: args[0], Command: models.CommandKind(args[1])}
	if commandParams != "" {
		req.Parameters = json.RawMessage(commandParams)
	}

	result, err := globals.Fleet.Queue.Dispatch(cmd.Context(), access.System, req)
	if err != nil {
		fail("send command", err)
	}

	if jsonOutput {
		printJSON(result)
		return
	}
	if result.CommandID == "" {
		fmt.Printf("Applied %s to %s\n", req.Command, req.SerialNumber)
		return
	}
	fmt.Printf("Queued %s for %s as %s\n", req.Command, req.SerialNumber, result.CommandID)
}

func runCommandPoll(cmd *cobra.Command, args []string) {
	cmds, err := globals.Fleet.Queue.Poll(cmd.Context(), access.System, args[0])
	if err != nil {
		fail("poll commands", err)
	}

	if jsonOutput {
		printJSON(cmds)
		return
	}
	if len(cmds) == 0 {
		fmt.Println("No pending commands.")
		return
	}
	printCommands(cmds)
}

func runCommandResult(cmd *cobra.Command, args []string) {
	report := commands.ResultReport{
		CommandID:    args[0],
		SerialNumber: resultSerial,
		Success:      !resultFailed,
		ErrorMessage: resultMessage,
	}
	if len(args) > 1 {
		report.Result = args[1]
	}

	command, err := globals.Fleet.Queue.ReportResult(cmd.Context(), access.System, report)
	if err != nil {
		fail("report result", err)
	}

	if jsonOutput {
		printJSON(command)
		return
	}
	fmt.Printf("Command %s is %s\n", command.ID, command.Status)
}

func runCommandList(cmd *cobra.Command, args []string) {
	status, err := commands.ParseStatus(listStatus)
	if err != nil {
		fail("list commands", err)
	}

	cmds, err := globals.Fleet.Queue.List(cmd.Context(), access.System, listSerial, status)
	if err != nil {
		fail("list commands", err)
	}

	if jsonOutput {
		printJSON(cmds)
		return
	}
	if len(cmds) == 0 {
		fmt.Println("No commands found.")
		return
	}
	printCommands(cmds)
}

func printCommands(cmds []models.Command) {
	w := newTable()
	defer w.Flush()

	now := time.Now().UTC()

	fmt.Fprintln(w, "ID\tSERIAL\tCOMMAND\tSTATUS\tAGE\tRESULT")
	fmt.Fprintln(w, "--\t------\t-------\t------\t---\t------")
	for i := range cmds {
		c := &cmds[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.SerialNumber,
			c.Kind,
			c.Status,
			commands.Age(c, now).Round(time.Second),
			orDash(c.Result),
		)
	}
}

func init() {
	rootCmd.AddCommand(commandCmd)
	commandCmd.AddCommand(commandSendCmd, commandPollCmd, commandResultCmd, commandListCmd)

	commandSendCmd.Flags().StringVarP(&commandParams, "params", "p", "", "Command parameters as a JSON object")

	commandResultCmd.Flags().BoolVar(&resultFailed, "failed", false, "Report the command as failed")
	commandResultCmd.Flags().StringVarP(&resultMessage, "message", "m", "", "Error message for a failed command")
	commandResultCmd.Flags().StringVar(&resultSerial, "serial", "", "Serial number, used when the command id is unknown")

	commandListCmd.Flags().StringVar(&listSerial, "serial", "", "Only commands for this device")
	commandListCmd.Flags().StringVar(&listStatus, "status", "", "Only commands in this status (pending, sent, completed, failed)")
}
