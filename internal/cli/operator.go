package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/config"
	"github.com/monorkin/device-fleet-manager/internal/globals"
)

var (
	operatorRole    string
	operatorSectors string
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage API operators and their tokens",
}

var operatorAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an operator and print its API token",
	Long: `Add an operator to the settings file. Operators with the user role only
reach devices whose name starts with one of their sectors, or whose sector
matches one.

Example:
  device-fleet-manager operator add matriz-ops --role user --sectors matriz,filial`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token, err := config.GenerateOperatorToken()
		if err != nil {
			fail("generate token", err)
		}

		settings := globals.Settings
		settings.Operators = append(settings.Operators, config.Operator{
			Name:    args[0],
			Token:   token,
			Role:    operatorRole,
			Sectors: operatorSectors,
		})
		if err := settings.Validate(); err != nil {
			fail("add operator", err)
		}
		if err := settings.Save(); err != nil {
			fail("save settings", err)
		}

		fmt.Printf("Operator %s added. API token: %s\n", args[0], token)
	},
}

var operatorListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List operators",
	Run: func(cmd *cobra.Command, args []string) {
		w := newTable()
		defer w.Flush()

		fmt.Fprintln(w, "NAME\tROLE\tSECTORS")
		fmt.Fprintln(w, "----\t----\t-------")
		for _, op := range globals.Settings.Operators {
			fmt.Fprintf(w, "%s\t%s\t%s\n", op.Name, op.Role, orDash(op.Sectors))
		}
	},
}

func init() {
	rootCmd.AddCommand(operatorCmd)
	operatorCmd.AddCommand(operatorAddCmd, operatorListCmd)

	operatorAddCmd.Flags().StringVar(&operatorRole, "role", "user", "Role: admin or user")
	operatorAddCmd.Flags().StringVar(&operatorSectors, "sectors", "", "Comma separated sector prefixes for the user role")
}
