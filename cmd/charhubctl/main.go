// Command charhubctl is the operator tool for a charhub data directory and server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// dbPath is the data directory shared by every subcommand.
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "charhubctl",
	Short: "Operate a charhub server and its data directory",
	Long: `charhubctl signs user ids for backend callers, manages accounts and
inspects stored documents.

Commands that open the data directory directly must not run against a
directory a live server holds open, except inspect which opens read-only.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./.database", "data directory")
	rootCmd.AddCommand(signCmd, usersCmd, inspectCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
