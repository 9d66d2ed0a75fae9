// Command blelayout sizes, inspects and simulates GATT service profiles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blelayout",
	Short: "GATT service arena and advertising payload tool",
	Long: `blelayout reads a YAML service profile and shows how it is laid out
in a service arena, how large the arena has to be, and what goes on air.

It can also run the profile against an in-memory stack, reading every
readable characteristic the way a connected peer would.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(sizeCmd)
	rootCmd.AddCommand(advCmd)
	rootCmd.AddCommand(simulateCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}
