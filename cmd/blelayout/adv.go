package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/XC-/ble"
	"github.com/XC-/ble/profile"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var advCmd = &cobra.Command{
	Use:   "adv",
	Short: "Encode and decode advertising payloads",
}

var advEncodeCmd = &cobra.Command{
	Use:   "encode <profile.yaml>",
	Short: "Print the advertising and scan response payloads of a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdvEncode,
}

var advDecodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Print the AD structures of a payload",
	Long: `Decodes a hex encoded advertising or scan response payload. Spaces and
colons between bytes are ignored.

Examples:
  blelayout adv decode 0201060303aafe
  blelayout adv decode "02 01 06 05 09 74 65 73 74"`,
	Args: cobra.ExactArgs(1),
	RunE: runAdvDecode,
}

func init() {
	advCmd.AddCommand(advEncodeCmd)
	advCmd.AddCommand(advDecodeCmd)
}

func runAdvEncode(cmd *cobra.Command, args []string) error {
	p, err := profile.Load(args[0])
	if err != nil {
		return err
	}
	adv, rsp, err := p.Payloads()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "adv (%2d bytes): %x\n", adv.Len(), adv.Bytes())
	fmt.Fprintf(w, "rsp (%2d bytes): %x\n", rsp.Len(), rsp.Bytes())
	return nil
}

func runAdvDecode(cmd *cobra.Command, args []string) error {
	s := strings.NewReplacer(" ", "", ":", "").Replace(args[0])
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode hex: %w", err)
	}
	if len(b) > ble.MaxEIRPacketLength {
		return fmt.Errorf("%d bytes: %w", len(b), ble.ErrEIRPacketTooLong)
	}
	ff, err := ble.ParseFields(b)
	printFields(cmd.OutOrStdout(), ff)
	return err
}

func printFields(w io.Writer, ff []ble.Field) {
	name := color.New(color.FgCyan)
	for _, f := range ff {
		name.Fprintf(w, "0x%02X %-45s", f.Type, ble.FieldName(f.Type))
		fmt.Fprintf(w, " %x", f.Data)
		if printable(f.Data) {
			fmt.Fprintf(w, " %q", f.Data)
		}
		fmt.Fprintln(w)
	}
}

func printable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range string(b) {
		if c == unicode.ReplacementChar || !unicode.IsPrint(c) {
			return false
		}
	}
	return true
}
