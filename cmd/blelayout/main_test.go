package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thermo = "../../profile/testdata/thermo.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		layoutArena = 0
		_ = rootCmd.PersistentFlags().Set("log-level", "")
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"layout", []string{"layout", thermo}, []string{"service 181a (primary), 3 of 3 characteristics", "header", "bytes used"}},
		{"size", []string{"size", thermo}, []string{"minimum:", "recommended:", "exact:"}},
		{"encode", []string{"adv", "encode", thermo}, []string{"adv (", "rsp ( 0 bytes)"}},
		{"decode", []string{"adv", "decode", "02 01 06 05 09 74 65 73 74"}, []string{"0x01 Flags", "0x09 Complete Local Name", `"test"`}},
		{"simulate", []string{"simulate", thermo}, []string{"advertising ADV_IND as \"thermo\"", "0a09", "5a14"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)
			for _, s := range tt.want {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing profile", []string{"layout", "nope.yaml"}},
		{"no args", []string{"size"}},
		{"small arena", []string{"layout", thermo, "--arena", "64"}},
		{"bad hex", []string{"adv", "decode", "0g"}},
		{"too long", []string{"adv", "decode", "00000000000000000000000000000000000000000000000000000000000000000000"}},
		{"log level", []string{"simulate", thermo, "--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []*cobra.Command{layoutCmd, sizeCmd, advCmd, simulateCmd} {
		assert.True(t, names[want.Name()], want.Name())
	}
}
