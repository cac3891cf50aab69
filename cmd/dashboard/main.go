package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/totegamma/ortto-dashboard/internal/config"
	"github.com/totegamma/ortto-dashboard/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "dashboard",
	Short:        "Ortto report cache service for the marketing dashboard",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, cacheCmd)
}

func loadConfig() (config.Config, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	logging.Init(logging.Config{
		Level:  conf.Logging.Level,
		Format: conf.Logging.Format,
	})
	return conf, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
