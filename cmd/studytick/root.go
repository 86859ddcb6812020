package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "studytick",
	Short: "Studytick - session and time-to-points accounting engine",
	Long: `Studytick turns "the user has the app open" into a durable seconds
counter, periodic point grants, and per-group daily leaderboard
contributions. It survives backgrounding, abrupt termination and network
failures without double-counting time.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to run command when no subcommand is provided
		return runEngine(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/studytick/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
