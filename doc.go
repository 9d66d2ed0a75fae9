// Package ble lays out GATT services in caller-supplied memory and builds
// BLE advertising payloads, for peripherals that must not allocate once
// configured.
//
// A service lives in a single byte slice, its arena. CreateService writes
// a small header at the start and carves the characteristic table and the
// handler bindings out of the rest; AddCharacteristic carves each UUID and
// descriptor from what is left. Every carve is rounded up to the pointer
// size of the platform, and a carve that does not fit fails without
// touching the arena.
//
// STATUS
//
// The layout and the payload builder are complete. Two stacks are
// provided: package linux drives an HCI controller directly, without an
// ATT server, and package tinygo hands services to tinygo.org/x/bluetooth.
// Package bletest is an in-memory stack for tests.
//
// ERRORS
//
// Configuration mistakes, such as a UUID that is not 2, 4 or 16 bytes long
// or an arena smaller than MinArenaSize, wrap ErrPrecondition. Firmware may
// treat them as fatal; test with errors.Is. Running out of arena or
// payload space is reported with ErrArenaExhausted and ErrEIRPacketTooLong.
// Register reports the failing stage in a *RegistrationError.
//
// USAGE
//
//     mem := make([]byte, ble.ArenaSize(2))
//     svc, err := ble.CreateService(mem, ble.UUID16(0x1234), true, 2)
//     if err != nil {
//     	log.Fatal(err)
//     }
//
//     n := 0
//     svc.AddCharacteristic(ble.UUID16(0xFF01), ble.Characteristic{
//     	Flags: ble.FlagRead,
//     	Handler: ble.HandlerFunc(func(resp ble.ResponseWriter, req *ble.AccessRequest) {
//     		fmt.Fprintf(resp, "count: %d", n)
//     		n++
//     	}),
//     })
//
//     d, err := ble.NewDevice(stack, ble.WithName("gopher"))
//     if err != nil {
//     	log.Fatal(err)
//     }
//     d.Handle(ble.GAPEvent(func(d ble.Device, e ble.Event, info ble.EventInfo) {
//     	if e == ble.EventReady {
//     		d.AdvertiseNameAndServices("gopher", []ble.UUID{svc.UUID()})
//     	}
//     }))
//     d.AddService(svc)
//     d.Enable()
//
// An arena may be a package level array, so that a firmware image reserves
// all of its GATT memory at link time:
//
//     var mem [256]byte
//     svc := ble.MustCreateService(mem[:], ble.UUID16(0x1234), true, 2)
//
package ble
