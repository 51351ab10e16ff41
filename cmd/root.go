// Package cmd provides the serial-pdf command line interface.
//
// Configuration is layered, highest priority first: command line flags,
// SERIALPDF_-prefixed environment variables (SERIALPDF_SERVER_PORT,
// SERIALPDF_PATHS_TEMPLATE_ROOT, ...), and a .serial-pdf.yml file found in
// the working directory or named by --config / SERIALPDF_CONFIG_FILE. A
// .env file next to the process is loaded into the environment first, so
// containerized deployments can ship secrets without touching the config
// file.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "serial-pdf",
	Short: "Asynchronous LaTeX template to PDF compilation service",
	Long: `serial-pdf renders versioned LaTeX templates into PDFs.

Templates live in a git work tree and every job is pinned to a commit, so
re-renders are reproducible even while the repository moves on. Submitted
placeholder data is substituted into the template sources, latexmk compiles
the result, and finished PDFs are collected through a polling HTTP API.

Quick start:
  serial-pdf serve                  Run the HTTP service
  serial-pdf render invoice         Render one template synchronously
  serial-pdf templates              List available templates
  serial-pdf doctor                 Check the environment`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default .serial-pdf.yml, or SERIALPDF_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	restrictFlag(rootCmd.PersistentFlags(), "log-level", "debug", "info", "warn", "error")
	restrictFlag(rootCmd.PersistentFlags(), "log-format", "text", "json")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	// Absence of a .env is the normal case.
	godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SERIALPDF_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".serial-pdf")
	}

	viper.SetEnvPrefix("SERIALPDF")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
