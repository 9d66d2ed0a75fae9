package main

import (
	"fmt"

	"github.com/XC-/ble"
	"github.com/XC-/ble/profile"
	"github.com/spf13/cobra"
)

var sizeCmd = &cobra.Command{
	Use:   "size <profile.yaml>",
	Short: "Print the arena sizes a profile needs",
	Long: `Prints the minimum arena size for the profile's characteristic count,
the recommended size for descriptor-less characteristics of any UUID, and
the exact size the profile needs.`,
	Args: cobra.ExactArgs(1),
	RunE: runSize,
}

func runSize(cmd *cobra.Command, args []string) error {
	p, err := profile.Load(args[0])
	if err != nil {
		return err
	}
	exact, err := p.ArenaSize()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "minimum:     > %d\n", ble.MinArenaSize(p.Max()))
	fmt.Fprintf(w, "recommended: %d\n", ble.ArenaSize(p.Max()))
	fmt.Fprintf(w, "exact:       %d\n", exact)
	return nil
}
