// Package commands implements the CLI commands for guardfetch.
package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "guardfetch",
	Short:   "Resilient page acquisition for website trust scoring",
	Version: version.String(),
	Long: `Guardfetch retrieves the HTML of a website despite flaky reachability,
TLS quirks and anti-bot challenge pages, and refuses pages flagged as
phishing by the upstream CDN.

A fetch connects directly (https, then http), then escalates through a
browser-impersonating client and the configured remote rendering services.

Examples:
  # Fetch one domain and print a summary
  guardfetch fetch example.com

  # Skip the local client and go straight to the remote services
  guardfetch fetch --force-remote-only -f json example.com

  # Fetch the newest archived snapshot of a page
  guardfetch archive https://example.com

Configuration is read from $HOME/.guardfetch.yaml or ./.guardfetch.yaml and
from GUARDFETCH_* environment variables, e.g.
GUARDFETCH_SERVICES_SCRAPINGANT_API_KEY.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{
			Debug: viper.GetBool("debug"),
			Quiet: viper.GetBool("quiet"),
			JSON:  viper.GetBool("log_json"),
			Level: viper.GetString("log_level"),
		})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.guardfetch.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".guardfetch")
		viper.SetConfigType("yaml")
	}

	// Environment variables: services.scrapeup.api_key -> GUARDFETCH_SERVICES_SCRAPEUP_API_KEY
	viper.SetEnvPrefix("GUARDFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	// Read config file (ignore error if not found)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if viper.GetString("config") != "" || !errors.As(err, &notFound) {
			logError("reading config: %v", err)
		}
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
