package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MagaseAiko/ESP32-Security-System/internal/client"
)

// Variables to hold flag values
var (
	provSSID     string
	provPassword string
	provPortal   string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Send Wi-Fi credentials to a camera in setup mode",
	Long: `A camera without stored credentials starts its own access point
("ESP32-CAM-Config") and serves a setup page at 192.168.4.1. Join that
network, then run this command to hand the camera your Wi-Fi details.

The camera restarts and joins your network; afterwards use
'esp32cam connect <address>' with the address it reports.`,
	Example: `  esp32cam provision --ssid HomeWiFi --password secret
  esp32cam provision reset`,
	Run: func(cmd *cobra.Command, args []string) {
		if provSSID == "" {
			fmt.Println("Error: --ssid is required")
			os.Exit(1)
		}

		api := newClient(provPortal)
		if err := api.Provision(context.Background(), provPortal, provSSID, provPassword); err != nil {
			fmt.Printf("Error: could not send credentials: %v\n", err)
			fmt.Println("Make sure this computer is joined to the camera's setup network.")
			os.Exit(1)
		}

		fmt.Printf("Credentials for %q sent. The camera will now restart and join that network.\n", provSSID)
	},
}

var provisionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the camera's stored Wi-Fi credentials",
	Run: func(cmd *cobra.Command, args []string) {
		api := newClient(provPortal)
		if err := api.ResetWiFi(context.Background(), provPortal); err != nil {
			fmt.Printf("Error: could not reset Wi-Fi settings: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Wi-Fi settings cleared. The camera restarts in setup mode.")
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.AddCommand(provisionResetCmd)

	provisionCmd.Flags().StringVar(&provSSID, "ssid", "", "Network name to join (required)")
	provisionCmd.Flags().StringVar(&provPassword, "password", "", "Network password")
	provisionCmd.PersistentFlags().StringVar(&provPortal, "portal", client.PortalAddress, "Address of the camera's setup page")
}
