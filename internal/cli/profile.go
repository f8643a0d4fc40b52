package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/monorkin/device-fleet-manager/internal/globals"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

var (
	profileDescription string
	profileFile        string
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Manage configuration profiles applied on enrollment",
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a configuration profile",
	Long: `Create a configuration profile. Settings are read from a JSON file with
wifi_configs, mandatory_apps, restrictions, app_whitelist and app_blacklist.`,
	Args: cobra.ExactArgs(1),
	Run:  runProfileAdd,
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configuration profiles",
	Run:     runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a configuration profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		profile, err := globals.Fleet.Provisioning.Profile(cmd.Context(), args[0])
		if err != nil {
			fail("show profile", err)
		}
		printJSON(profile)
	},
}

func runProfileAdd(cmd *cobra.Command, args []string) {
	var settings models.ProfileSettings
	if profileFile != "" {
		data, err := os.ReadFile(profileFile)
		if err != nil {
			fail("read profile settings", err)
		}
		if err := json.Unmarshal(data, &settings); err != nil {
			fail("parse profile settings", err)
		}
	}

	profile, err := globals.Fleet.Provisioning.CreateProfile(cmd.Context(), args[0], profileDescription, settings)
	if err != nil {
		fail("create profile", err)
	}
	fmt.Printf("Profile %s created\n", profile.Name)
}

func runProfileList(cmd *cobra.Command, args []string) {
	profiles, err := globals.Fleet.Provisioning.Profiles(cmd.Context())
	if err != nil {
		fail("list profiles", err)
	}

	if jsonOutput {
		printJSON(profiles)
		return
	}

	w := newTable()
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tAPPS\tWIFI\tRESTRICTIONS\tDESCRIPTION")
	fmt.Fprintln(w, "----\t----\t----\t------------\t-----------")
	for _, p := range profiles {
		settings := p.Settings.Data()
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%s\n",
			p.Name,
			len(settings.MandatoryApps),
			len(settings.WifiConfigs),
			settings.Restrictions != nil,
			orDash(p.Description),
		)
	}
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileShowCmd)

	profileAddCmd.Flags().StringVarP(&profileDescription, "description", "d", "", "Profile description")
	profileAddCmd.Flags().StringVarP(&profileFile, "file", "f", "", "Profile settings as JSON")
}
