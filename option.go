package ble

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Option provides a way to configure the device.
type Option func(*device) error

// Option sets the options specified.
func (d *device) Option(opts ...Option) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *device) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrPrecondition)
		}
		d.log = l
		return nil
	}
}

// WithName sets the device name used for the GAP service and the default
// scan response.
func WithName(name string) Option {
	return func(d *device) error { d.name = name; return nil }
}

// WithAdvMode sets the advertising mode. It resets the advertiser.
func WithAdvMode(m AdvMode) Option {
	return func(d *device) error {
		if m > AdvScanInd {
			return fmt.Errorf("%w: advertising mode %d", ErrPrecondition, m)
		}
		d.advMode = m
		if d.adv != nil {
			return d.adv.Init(m)
		}
		return nil
	}
}

// WithAddress sets the own address type, and the static address to use.
// A zero addr leaves the choice to the controller.
func WithAddress(t AddrType, addr Addr) Option {
	return func(d *device) error {
		if t > AddrPrivateNRPA {
			return fmt.Errorf("%w: address type %d", ErrPrecondition, t)
		}
		d.addrType = t
		d.addr = addr
		return nil
	}
}

// WithGAPServices makes Enable register the GAP and GATT services before
// any other service. Stacks that provide them on their own do not need it.
func WithGAPServices() Option {
	return func(d *device) error { d.gap = true; return nil }
}
