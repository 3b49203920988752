// Package cmd implements the commands of the automarket storefront server.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "automarket",
	Short: "Vehicle marketplace storefront",
	Long: "automarket serves the AutoMarket storefront: buyers browse and search car\n" +
		"listings, sellers manage their listings and images. Listings, accounts and\n" +
		"images live in external services configured in the config file.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(versionCommand())
}

// Root returns the root command for documentation generation.
func Root() *cobra.Command {
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
