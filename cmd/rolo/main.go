package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "rolo",
	Short: "Personal CRM over synced email and calendar",
	Long: `rolo pulls your email and calendar history from connected providers, turns
it into structured interactions and contacts, and makes all of it searchable.

"rolo serve" runs the API server and the background sync worker; every other
command talks to that server.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rolo version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rolo version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// A .env in the working directory feeds the ROLO_* overrides during
	// development; missing files are fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
