package main

import (
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var configShowSource bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  `Show the effective configuration after merging defaults, config file, and environment variables.`,
	Example: `  # Show effective configuration
  modmigrate config show

  # Show configuration with source file path
  modmigrate config show --source`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowSource {
			if configPath != "" {
				printf("Config file: %s\n\n", configPath)
			} else {
				printf("Config file: (none, using defaults)\n\n")
			}
		}

		shown := *cfg
		if shown.Database.Password != "" {
			shown.Database.Password = "********"
		}
		out, err := yaml.Marshal(shown)
		if err != nil {
			return err
		}
		printf("%s", out)
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSource, "source", false, "show config file source")
	configCmd.AddCommand(configShowCmd)
}
