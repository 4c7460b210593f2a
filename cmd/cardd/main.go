// Command cardd runs the card authorization and control service.
package main

import (
	"fmt"
	"os"

	"cardctl/pkg/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "cardd",
		Short:        "Card authorization and spend-control service",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (CARDD_* env vars override it)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(configCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Settings())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
