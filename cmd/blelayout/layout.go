package main

import (
	"fmt"
	"io"

	"github.com/XC-/ble"
	"github.com/XC-/ble/profile"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var layoutCmd = &cobra.Command{
	Use:   "layout <profile.yaml>",
	Short: "Show the service arena layout of a profile",
	Long: `Builds the profile's service in an exactly sized arena and prints every
region carved from it, in address order.

Examples:
  # Show the regions of a profile
  blelayout layout thermo.yaml

  # Lay out in a larger arena, as firmware with a fixed buffer would
  blelayout layout thermo.yaml --arena 512`,
	Args: cobra.ExactArgs(1),
	RunE: runLayout,
}

var layoutArena int

func init() {
	layoutCmd.Flags().IntVar(&layoutArena, "arena", 0, "Arena size in bytes (exact size if zero)")
}

func runLayout(cmd *cobra.Command, args []string) error {
	p, err := profile.Load(args[0])
	if err != nil {
		return err
	}
	n := layoutArena
	if n == 0 {
		if n, err = p.ArenaSize(); err != nil {
			return err
		}
	}
	s, err := p.Build(make([]byte, n))
	if err != nil {
		return err
	}
	printLayout(cmd.OutOrStdout(), s, n)
	return nil
}

func printLayout(w io.Writer, s *ble.Service, n int) {
	kind := "secondary"
	if s.Primary() {
		kind = "primary"
	}
	color.New(color.Bold).Fprintf(w, "service %s (%s), %d of %d characteristics\n", s.UUID(), kind, s.Len(), s.Cap())
	color.New(color.FgCyan).Fprintf(w, "%6s  %5s  %s\n", "OFFSET", "SIZE", "REGION")
	for _, r := range s.Layout() {
		fmt.Fprintf(w, "%6d  %5d  %s\n", r.Offset, r.Size, r.Name)
	}
	free := color.New(color.FgGreen)
	if s.Free() == 0 {
		free = color.New(color.FgYellow)
	}
	free.Fprintf(w, "%d of %d bytes used, %d free, aligned to %d\n", s.Used(), n, s.Free(), ble.WordSize())
}
