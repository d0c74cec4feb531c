// Package cli provides the command-line interface for besimd.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "besimd",
	Short: "A simulated cloud server for Besmart-family WiFi thermostats",
	Long: `besimd terminates the framed UDP protocol used by WiFi-connected
Besmart-family heating thermostats, keeps a live shadow of every
device and room it has heard from, and exposes that shadow over
HTTP/JSON so the thermostats can be read and controlled without the
vendor's cloud.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.config/besimd/config.yml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console)")

	// Bind flags to viper; left unset, these fall through to BESIM_LOG_LEVEL /
	// BESIM_LOG_FORMAT via config.Load's explicit env bindings.
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set. besimd's
// environment variables don't share a common prefix (BESIM_*, FLASK_*,
// bare LATITUDE/LONGITUDE per spec §6), so config.Load binds each key
// to its literal name rather than relying on viper.AutomaticEnv here.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/besimd")
		viper.AddConfigPath("/etc/besimd")
		viper.AddConfigPath(".")
	}

	// Errors are intentionally ignored: an absent config file is the
	// common case, with defaults and environment variables covering it.
	_ = viper.ReadInConfig()
}

// GetConfigFile returns the config file being used
func GetConfigFile() string {
	return viper.ConfigFileUsed()
}
