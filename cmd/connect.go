package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MagaseAiko/ESP32-Security-System/pkg/models"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <address>",
	Short: "Test a camera address and remember it",
	Long: `Checks the camera's status endpoint and, if it answers, saves the address
locally so later commands use it.

The address is either the camera's IP on the local network or the public
hostname of a tunnel (ngrok) forwarding to it.

Example:
  esp32cam connect 192.168.15.200
  esp32cam connect https://abc123.ngrok-free.app`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		address := args[0]
		sess := newSession()

		fmt.Printf("Connecting to %s...\n", address)

		if err := sess.Connect(context.Background(), address); err != nil {
			fmt.Printf("Error: could not connect to the ESP32-CAM: %v\n", err)
			fmt.Println("Check the address and that the camera is on the same network.")
			os.Exit(1)
		}

		snap := sess.Snapshot()

		if jsonOutput {
			printJSON(snap)
			return
		}

		if snap.Endpoints.Tunnel {
			fmt.Println("Connected through tunnel. Note: free ngrok URLs change on every restart.")
		} else {
			fmt.Println("Connected.")
		}
		printSettings(snap.Settings)
		fmt.Println("Address saved. You can now run commands like 'esp32cam status'.")
	},
}

func printSettings(s models.Settings) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tVALUE\tRANGE")
	fmt.Fprintln(w, "--------\t-----\t-----")

	for _, v := range models.Variables {
		val, _ := s.Get(v.Name)
		fmt.Fprintf(w, "%s\t%d\t%d..%d\n", v.Name, val, v.Min, v.Max)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(connectCmd)
}
