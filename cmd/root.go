package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MagaseAiko/ESP32-Security-System/internal/config"
	"github.com/MagaseAiko/ESP32-Security-System/internal/logging"
)

var (
	cfgFile    string
	jsonOutput bool
	logFile    string
	debug      bool

	logger = zap.NewNop().Sugar()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "esp32cam",
	Short: "A CLI for viewing and controlling ESP32-CAM devices",
	Long: `Connect to an ESP32-CAM on the local network or through an ngrok tunnel,
view its feed, capture photos and adjust camera parameters.`,
	SilenceUsage: true,
}

func Execute() {
	defer func() { _ = logger.Sync() }()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		config.InitConfig(cfgFile)
		if logFile == "" {
			logFile = viper.GetString(config.KeyLogFile)
		}
		logger = logging.New(logging.Config{File: logFile, Debug: debug})
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.esp32cam.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Second, "Timeout for each request to the camera")
	_ = viper.BindPFlag(config.KeyTimeout, rootCmd.PersistentFlags().Lookup("timeout"))
}
