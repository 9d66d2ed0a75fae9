package ble

import (
	"fmt"
	"net"
)

// State is the power state of a device.
type State int

const (
	StateUnknown     State = 0
	StateResetting   State = 1
	StateUnsupported State = 2
	StatePoweredOff  State = 3
	StatePoweredOn   State = 4
)

func (s State) String() string {
	str := []string{
		"Unknown",
		"Resetting",
		"Unsupported",
		"PoweredOff",
		"PoweredOn",
	}
	if int(s) < 0 || int(s) >= len(str) {
		return "Unknown"
	}
	return str[int(s)]
}

// Event identifies a GAP or GATT event reported to a device's handlers.
type Event uint8

const (
	EventUnknown Event = iota
	EventReady
	EventConnected
	EventDisconnected
	EventAdvComplete
	EventAdvSuspended
	EventMTU
)

func (e Event) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventAdvComplete:
		return "adv-complete"
	case EventAdvSuspended:
		return "adv-suspended"
	case EventMTU:
		return "mtu"
	}
	return "unknown"
}

// EventInfo carries the details of an event. Fields not meaningful for
// the event are zero.
type EventInfo struct {
	Conn uint16 // connection handle
	MTU  uint16
	Err  error // disconnect or advertising end reason
}

// AddrType is the kind of device address used on air.
type AddrType uint8

const (
	AddrPublic      AddrType = iota
	AddrStatic               // static random
	AddrPrivateRPA           // resolvable private
	AddrPrivateNRPA          // non-resolvable private
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrStatic:
		return "static"
	case AddrPrivateRPA:
		return "rpa"
	case AddrPrivateNRPA:
		return "nrpa"
	}
	return fmt.Sprintf("AddrType(%d)", uint8(t))
}

// Private reports whether t is a private address type.
func (t AddrType) Private() bool { return t == AddrPrivateRPA || t == AddrPrivateNRPA }

// Addr is a 48-bit device address, most significant byte first.
type Addr [6]byte

func (a Addr) String() string { return net.HardwareAddr(a[:]).String() }

// IsZero reports whether a is unset.
func (a Addr) IsZero() bool { return a == Addr{} }

// ParseAddr parses a colon separated device address.
func ParseAddr(s string) (Addr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Addr{}, err
	}
	var a Addr
	if len(hw) != len(a) {
		return Addr{}, fmt.Errorf("invalid device address %q", s)
	}
	copy(a[:], hw)
	return a, nil
}

// AddrTypeOf infers the type of a random address from its two most
// significant bits. It cannot tell a public address from a random one.
func AddrTypeOf(a Addr) AddrType {
	switch a[0] >> 6 {
	case 0x3:
		return AddrStatic
	case 0x1:
		return AddrPrivateRPA
	case 0x0:
		return AddrPrivateNRPA
	}
	return AddrPublic
}

// StackEvents receives events from a Stack. The generic device returned by
// NewDevice implements it; a Stack is handed its StackEvents on Enable and
// must not call it before then.
type StackEvents interface {
	// Synced reports the host and controller are in sync.
	Synced()
	// Reset reports the stack lost sync with the controller.
	Reset(reason error)
	Connected(conn uint16)
	Disconnected(conn uint16, reason error)
	// AdvertisingComplete reports that advertising ended: nil or
	// ErrAdvTimeout when the duration elapsed, otherwise the reason.
	AdvertisingComplete(reason error)
	MTUChanged(conn, mtu uint16)
}

// A Stack is a BLE host stack on one hardware target.
type Stack interface {
	Radio
	Registrar

	// Enable starts the stack with the given own address type. addr is
	// the static address to use, or zero for the controller default.
	// Events are delivered to ev until Disable returns.
	Enable(t AddrType, addr Addr, ev StackEvents) error
	Disable() error

	// DeviceAddress returns the address and address type in use.
	DeviceAddress() (Addr, AddrType, error)
}

// Device defines the interface for a BLE peripheral.
type Device interface {
	// Enable starts the stack. The device is ready to advertise once the
	// EventReady handler has been called.
	Enable() error
	Disable() error

	State() State

	// Address returns the device address and its type.
	Address() (Addr, AddrType, error)

	// Handle registers the handlers.
	Handle(hh ...handler)

	// Advertiser returns the device's advertiser, to configure advertising.
	Advertiser() *Advertiser

	// AdvertiseNameAndServices advertises device name, and specified service UUIDs.
	// It tries to fit the UUIDs in the advertising packet as much as possible.
	// If name doesn't fit in the advertising packet, it will be put in scan response.
	AdvertiseNameAndServices(name string, ss []UUID) error

	// StartAdvertising starts advertising with the configured payloads.
	StartAdvertising() error
	StopAdvertising() error

	// AddService registers s with the stack.
	AddService(s *Service) error
	Services() []*Service

	// Option provides a way to configure the device.
	Option(o ...Option) error
}

// EventHandler is called with the device that saw the event.
type EventHandler func(d Device, e Event, info EventInfo)

type handler func(*device)

// Handle registers the specified handlers.
func (d *device) Handle(hh ...handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hh {
		h(d)
	}
}

// GAPEvent sets a function to be called on connection, disconnection,
// readiness and end of advertising.
func GAPEvent(f EventHandler) handler {
	return func(d *device) { d.gapEvent = f }
}

// GATTEvent sets a function to be called on GATT events such as an MTU
// exchange.
func GATTEvent(f EventHandler) handler {
	return func(d *device) { d.gattEvent = f }
}
