package main

import (
	"fmt"

	"github.com/XC-/ble"
	"github.com/XC-/ble/bletest"
	"github.com/XC-/ble/profile"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <profile.yaml>",
	Short: "Run a profile against an in-memory stack",
	Long: `Registers the profile's service on a loopback stack, advertises it, then
connects a simulated peer that reads every readable characteristic.

Use --log-level debug to follow the stack.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	p, err := profile.Load(args[0])
	if err != nil {
		return err
	}
	n, err := p.ArenaSize()
	if err != nil {
		return err
	}
	svc, err := p.Build(make([]byte, n))
	if err != nil {
		return err
	}

	st := bletest.New(logger)
	d, err := ble.NewDevice(st, append(p.Options(), ble.WithLogger(logger))...)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	d.Handle(ble.GAPEvent(func(d ble.Device, e ble.Event, info ble.EventInfo) {
		logger.WithFields(logrus.Fields{"event": e, "conn": info.Conn}).Info("gap event")
	}))

	if err := d.AddService(svc); err != nil {
		return err
	}
	if err := d.Enable(); err != nil {
		return err
	}
	defer d.Disable()

	if err := p.Configure(d.Advertiser()); err != nil {
		return err
	}
	if err := d.StartAdvertising(); err != nil {
		return err
	}
	last, _ := st.Last()
	color.New(color.Bold).Fprintf(w, "advertising %s as %q\n", last.Params.Mode, p.Name)
	fmt.Fprintf(w, "  adv %x\n  rsp %x\n", last.Adv, last.Rsp)

	const conn = 1
	st.Connect(conn)
	for _, c := range svc.Characteristics() {
		if c.Flags&ble.FlagRead == 0 {
			continue
		}
		v, err := st.Read(conn, c.ValueHandle)
		if err != nil {
			color.New(color.FgRed).Fprintf(w, "  0x%04X %s: %v\n", c.ValueHandle, c.UUID, err)
			continue
		}
		fmt.Fprintf(w, "  0x%04X %s [%s] = %x\n", c.ValueHandle, c.UUID, c.Flags, v)
	}
	st.Disconnect(conn, nil)
	return nil
}
