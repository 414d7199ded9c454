package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys in the config file.
const (
	KeyAddress         = "esp32_url"
	KeyRefreshInterval = "refresh_interval"
	KeyTimeout         = "timeout"
	KeyListen          = "listen"
	KeyLogFile         = "log_file"
)

// DefaultAddress is the fixed IP the firmware assigns itself after
// provisioning (last octet 200 on a 192.168.15.0/24 home network).
const DefaultAddress = "192.168.15.200"

const fileName = ".esp32cam"

// InitConfig reads in config file and ENV variables if set.
func InitConfig(cfgFile string) {
	viper.SetDefault(KeyAddress, DefaultAddress)
	viper.SetDefault(KeyRefreshInterval, 200*time.Millisecond)
	viper.SetDefault(KeyTimeout, 5*time.Second)
	viper.SetDefault(KeyListen, ":8080")

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".esp32cam" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(fileName)
	}

	// ESP32CAM_ESP32_URL, ESP32CAM_TIMEOUT, ...
	viper.SetEnvPrefix("esp32cam")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// A missing file is fine; it is created on the first successful connect.
	_ = viper.ReadInConfig()
}

// Address returns the last address that connected successfully.
func Address() string {
	return viper.GetString(KeyAddress)
}

// Store persists addresses through viper.
type Store struct{}

// SaveAddress implements session.AddressStore.
func (Store) SaveAddress(address string) error {
	return SaveAddress(address)
}

// SaveAddress updates the config file with the connected address.
func SaveAddress(address string) error {
	viper.Set(KeyAddress, address)

	// Ensure the file exists before writing
	if err := viper.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return viper.SafeWriteConfig()
		}
		// If it exists but failed to write, try writing to default path
		home, herr := os.UserHomeDir()
		if herr != nil {
			return err
		}
		return viper.WriteConfigAs(filepath.Join(home, fileName+".yaml"))
	}
	return nil
}
