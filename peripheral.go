package ble

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultName = "gopher"

// device is the generic peripheral. It knows nothing about the hardware
// target: everything goes through its Stack, and every stack event comes
// back through its StackEvents methods.
type device struct {
	stack Stack
	adv   *Advertiser
	log   logrus.FieldLogger

	name     string
	advMode  AdvMode
	addrType AddrType
	addr     Addr
	gap      bool
	gapDone  bool

	state State
	svcs  []*Service

	gapEvent  EventHandler
	gattEvent EventHandler

	mu sync.Mutex
}

// NewDevice returns a peripheral on stack s.
func NewDevice(s Stack, opts ...Option) (Device, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil stack", ErrPrecondition)
	}
	d := &device{
		stack: s,
		log:   discardLogger(),
		name:  defaultName,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.adv = NewAdvertiser(s, d.log)
	d.adv.Init(d.advMode)
	d.adv.setOwnAddr(d.addrType)
	d.adv.started = d.checkAddr
	return d, nil
}

func (d *device) Enable() error {
	d.mu.Lock()
	t, addr, gap, name := d.addrType, d.addr, d.gap && !d.gapDone, d.name
	d.gapDone = d.gapDone || d.gap
	d.mu.Unlock()

	d.adv.setOwnAddr(t)
	if gap {
		ss, err := GAPServices(name)
		if err != nil {
			return err
		}
		for _, s := range ss {
			if err := d.AddService(s); err != nil {
				return err
			}
		}
	}
	if err := d.stack.Enable(t, addr, d); err != nil {
		d.setState(StateUnsupported)
		return fmt.Errorf("enable stack: %w", err)
	}
	d.log.WithFields(logrus.Fields{"addr_type": t, "name": name}).Info("ble stack enabled")
	return nil
}

func (d *device) Disable() error {
	if err := d.adv.Stop(); err != nil {
		d.log.WithError(err).Warn("stop advertising")
	}
	d.adv.setReady(false)
	err := d.stack.Disable()
	d.setState(StatePoweredOff)
	return err
}

func (d *device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *device) Address() (Addr, AddrType, error) { return d.stack.DeviceAddress() }

func (d *device) Advertiser() *Advertiser { return d.adv }

func (d *device) AdvertiseNameAndServices(name string, ss []UUID) error {
	adv, _ := ServiceAdvertisement(ss)
	var rsp AdvPayload
	if adv.Free() >= len(name)+2 {
		adv.AppendName(name)
	} else {
		rsp = NameScanResponse(name)
	}
	if err := d.adv.SetPayload(&adv); err != nil {
		return err
	}
	if err := d.adv.SetScanResponse(&rsp); err != nil {
		return err
	}
	return d.StartAdvertising()
}

func (d *device) StartAdvertising() error { return d.adv.Start() }
func (d *device) StopAdvertising() error  { return d.adv.Stop() }

// checkAddr warns when the address in use is not of the configured type.
func (d *device) checkAddr() {
	_, t, err := d.stack.DeviceAddress()
	if err != nil {
		d.log.WithError(err).Error("error reading address")
		return
	}
	d.mu.Lock()
	want := d.addrType
	d.mu.Unlock()
	if t != want {
		d.log.Warnf("addr type mismatch: %s expected but %s", want, t)
	}
}

func (d *device) AddService(s *Service) error {
	if err := s.Register(d.stack); err != nil {
		return err
	}
	d.mu.Lock()
	d.svcs = append(d.svcs, s)
	d.mu.Unlock()
	return nil
}

func (d *device) Services() []*Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Service(nil), d.svcs...)
}

func (d *device) dispatch(gatt bool, e Event, info EventInfo) {
	d.mu.Lock()
	h := d.gapEvent
	if gatt {
		h = d.gattEvent
	}
	d.mu.Unlock()
	if h != nil {
		h(d, e, info)
	}
}

func (d *device) Synced() {
	d.adv.setReady(true)
	d.setState(StatePoweredOn)
	d.log.Info("ble stack synced")
	d.dispatch(false, EventReady, EventInfo{})
}

func (d *device) Reset(reason error) {
	d.adv.setReady(false)
	d.setState(StateResetting)
	d.log.WithError(reason).Info("reset")
}

func (d *device) Connected(conn uint16) {
	d.adv.connected()
	d.log.WithField("conn", conn).Debug("connected")
	d.dispatch(false, EventConnected, EventInfo{Conn: conn})
}

func (d *device) Disconnected(conn uint16, reason error) {
	d.log.WithFields(logrus.Fields{"conn": conn, "reason": reason}).Debug("disconnected")
	d.dispatch(false, EventDisconnected, EventInfo{Conn: conn, Err: reason})
}

func (d *device) AdvertisingComplete(reason error) {
	e := d.adv.Complete(reason)
	d.dispatch(false, e, EventInfo{Err: reason})
}

func (d *device) MTUChanged(conn, mtu uint16) {
	d.log.WithFields(logrus.Fields{"conn": conn, "mtu": mtu}).Debug("mtu changed")
	d.dispatch(true, EventMTU, EventInfo{Conn: conn, MTU: mtu})
}
