package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/username/chatbae/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "chatbae",
	Short:        "ChatBae dating-coach chat server",
	Long:         "Streams coaching replies from an OpenAI-compatible model and keeps conversations on local storage.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads and validates the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
}
