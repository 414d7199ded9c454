package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MagaseAiko/ESP32-Security-System/internal/config"
	"github.com/MagaseAiko/ESP32-Security-System/internal/endpoint"
	"github.com/MagaseAiko/ESP32-Security-System/pkg/models"
)

// Variables to hold flag values
var (
	captureOutput string
	captureDir    string
)

// Status Command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the camera's current settings",
	Run: func(cmd *cobra.Command, args []string) {
		sess := connectedSession(context.Background())

		if jsonOutput {
			printJSON(sess.Snapshot().Settings)
			return
		}
		printSettings(sess.Snapshot().Settings)
	},
}

// Set Command
var setCmd = &cobra.Command{
	Use:   "set <variable> <value>",
	Short: "Change one camera setting",
	Long: `Sends one control variable to the camera. Run 'esp32cam variables' to see
the accepted names and ranges.`,
	Example: `  esp32cam set quality 12
  esp32cam set led_intensity 200
  esp32cam set framesize 8`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		value, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("Error: value must be an integer, got %q\n", args[1])
			os.Exit(1)
		}

		// Check locally first so a typo never reaches the device.
		v, err := models.LookupVariable(name)
		if err == nil {
			err = v.Validate(value)
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		sess := connectedSession(context.Background())

		settings, err := sess.ApplySetting(context.Background(), name, value)
		if err != nil {
			fmt.Printf("Error: could not change %s: %v\n", name, err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(settings)
			return
		}
		fmt.Printf("%s set to %d.\n", name, value)
	},
}

// Variables Command
var variablesCmd = &cobra.Command{
	Use:   "variables",
	Short: "List the control variables and their ranges",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			printJSON(models.Variables)
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tTITLE\tMIN\tMAX\tSTEP\tDEFAULT")
		fmt.Fprintln(w, "----\t-----\t---\t---\t----\t-------")
		for _, v := range models.Variables {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", v.Name, v.Title, v.Min, v.Max, v.Step, v.Default)
		}
		w.Flush()
	},
}

// Capture Command
var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take a JPEG photo from the camera",
	Example: `  esp32cam capture
  esp32cam capture --output door.jpg
  esp32cam capture --dir ~/Pictures/esp32`,
	Run: func(cmd *cobra.Command, args []string) {
		addr := config.Address()
		api := newClient(addr)

		fmt.Printf("Capturing from %s ...\n", api.Endpoints.Capture)

		imgData, err := api.Capture(context.Background())
		if err != nil {
			fmt.Printf("Error: could not capture photo: %v\n", err)
			os.Exit(1)
		}

		path, err := savePhoto(imgData, captureOutput, captureDir, time.Now())
		if err != nil {
			fmt.Printf("Photo captured, but it could not be saved: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Photo saved to %s (%d bytes)\n", path, len(imgData))
	},
}

// Endpoints Command
var endpointsCmd = &cobra.Command{
	Use:   "endpoints [address]",
	Short: "Show the URLs derived from an address",
	Long:  `Prints the stream, capture, status and control URLs for the given address, or for the saved one.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		addr := config.Address()
		if len(args) == 1 {
			addr = args[0]
		}
		if addr == "" {
			fmt.Println("Error: no address given and none saved.")
			os.Exit(1)
		}

		ep := endpoint.Resolve(addr)

		if jsonOutput {
			printJSON(ep)
			return
		}

		kind := "local"
		if ep.Tunnel {
			kind = "tunnel"
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "ADDRESS\t%s (%s)\n", ep.Address, kind)
		fmt.Fprintf(w, "STREAM\t%s\n", ep.Stream)
		fmt.Fprintf(w, "CAPTURE\t%s\n", ep.Capture)
		fmt.Fprintf(w, "STATUS\t%s\n", ep.Status)
		fmt.Fprintf(w, "CONTROL\t%s\n", ep.Control)
		w.Flush()
	},
}

// savePhoto writes data to output, or to a timestamped file in dir when no
// output is given.
func savePhoto(data []byte, output, dir string, now time.Time) (string, error) {
	path := output
	if path == "" {
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, fmt.Sprintf("esp32_capture_%d.jpg", now.UnixMilli()))
	}
	if _, err := os.Stat(path); err == nil {
		return "", errors.New(path + " already exists")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(variablesCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(endpointsCmd)

	// Flags for Capture
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "Output filename (default esp32_capture_<unixms>.jpg)")
	captureCmd.Flags().StringVar(&captureDir, "dir", "", "Directory for the generated filename")
}
