// Package tinygo is a ble.Stack over tinygo.org/x/bluetooth, for boards
// running TinyGo and for BlueZ hosts.
//
// The adapter serves reads from a stored value rather than calling back,
// so a readable characteristic is read through its Handler when it is
// registered and again after each write; notifying characteristics may be
// refreshed with Update.
package tinygo

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/XC-/ble"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// adapter is the part of *bluetooth.Adapter the stack uses.
type adapter interface {
	Enable() error
	AddService(s *bluetooth.Service) error
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

// advertisement is the part of *bluetooth.Advertisement the stack uses.
type advertisement interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// Stack hands services and payloads to a bluetooth adapter.
type Stack struct {
	*ble.AttributeTable

	a   adapter
	adv advertisement
	log logrus.FieldLogger

	ev      ble.StackEvents
	pending []*bluetooth.Service
	chars   map[uint16]*bluetooth.Characteristic // by value handle
	conns   map[string]uint16
	nconn   uint16
	timer   *time.Timer

	mu sync.Mutex
}

// New returns a stack on a. If l is nil, nothing is logged.
func New(a *bluetooth.Adapter, l logrus.FieldLogger) *Stack {
	return newStack(a, a.DefaultAdvertisement(), l)
}

// Default returns a stack on bluetooth.DefaultAdapter.
func Default(l logrus.FieldLogger) *Stack {
	return New(bluetooth.DefaultAdapter, l)
}

func newStack(a adapter, adv advertisement, l logrus.FieldLogger) *Stack {
	if l == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		l = lg
	}
	l = l.WithField("component", "tinygo")
	return &Stack{
		AttributeTable: ble.NewAttributeTable(l),
		a:              a,
		adv:            adv,
		log:            l,
		chars:          map[uint16]*bluetooth.Characteristic{},
		conns:          map[string]uint16{},
	}
}

// Enable enables the adapter and adds the services registered so far.
// The adapter picks its own address: a static addr is not applied.
func (s *Stack) Enable(t ble.AddrType, addr ble.Addr, ev ble.StackEvents) error {
	s.mu.Lock()
	if s.ev != nil {
		s.mu.Unlock()
		return fmt.Errorf("adapter already enabled")
	}
	s.mu.Unlock()

	if !addr.IsZero() {
		s.log.WithField("addr", addr).Warn("adapter does not take a static address")
	}
	if err := s.a.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	s.a.SetConnectHandler(s.connectHandler)

	s.mu.Lock()
	s.ev = ev
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, svc := range pending {
		if err := s.a.AddService(svc); err != nil {
			return fmt.Errorf("add service %s: %w", svc.UUID, err)
		}
	}
	ev.Synced()
	return nil
}

func (s *Stack) Disable() error {
	s.stopTimer()
	err := s.adv.Stop()
	s.mu.Lock()
	s.ev = nil
	s.mu.Unlock()
	return err
}

// DeviceAddress returns the adapter address, on targets that report it.
func (s *Stack) DeviceAddress() (ble.Addr, ble.AddrType, error) {
	s.mu.Lock()
	enabled := s.ev != nil
	s.mu.Unlock()
	if !enabled {
		return ble.Addr{}, 0, ble.ErrNotReady
	}
	ar, ok := s.a.(interface {
		Address() (bluetooth.MACAddress, error)
	})
	if !ok {
		return ble.Addr{}, ble.AddrPublic, nil
	}
	mac, err := ar.Address()
	if err != nil {
		return ble.Addr{}, 0, err
	}
	// MAC is least significant byte first.
	var a ble.Addr
	for i := range a {
		a[i] = mac.MAC[5-i]
	}
	return a, ble.AddrPublic, nil
}

// AddService assigns attribute handles to svc and hands it to the adapter,
// or keeps it until Enable if the adapter is not enabled yet.
func (s *Stack) AddService(svc *ble.Service) error {
	if err := s.AttributeTable.AddService(svc); err != nil {
		return err
	}
	bs := s.service(svc)

	s.mu.Lock()
	enabled := s.ev != nil
	if !enabled {
		s.pending = append(s.pending, bs)
	}
	s.mu.Unlock()
	if enabled {
		return s.a.AddService(bs)
	}
	return nil
}

// service translates svc for the adapter.
func (s *Stack) service(svc *ble.Service) *bluetooth.Service {
	bs := &bluetooth.Service{UUID: uuid(svc.UUID())}
	for _, c := range svc.Characteristics() {
		c := c
		h := &bluetooth.Characteristic{}
		s.mu.Lock()
		s.chars[c.ValueHandle] = h
		s.mu.Unlock()
		if len(c.Descriptors) > 0 {
			s.log.WithField("uuid", c.UUID).Debugf("%d descriptors not supported by adapter", len(c.Descriptors))
		}
		cfg := bluetooth.CharacteristicConfig{
			Handle: h,
			UUID:   uuid(c.UUID),
			Flags:  permissions(c.Flags),
		}
		if c.Flags&ble.FlagRead != 0 {
			cfg.Value = s.read(c)
		}
		if c.Flags&ble.FlagWrite != 0 {
			cfg.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
				s.write(c, uint16(client), value)
			}
		}
		bs.Characteristics = append(bs.Characteristics, cfg)
	}
	return bs
}

func (s *Stack) read(c ble.CharacteristicDef) []byte {
	v, status, err := c.Access(0, ble.OpRead, nil)
	if err != nil || status != ble.StatusSuccess {
		s.log.WithField("uuid", c.UUID).WithError(err).Warnf("read status 0x%02X", status)
		return nil
	}
	return v
}

func (s *Stack) write(c ble.CharacteristicDef, conn uint16, value []byte) {
	_, status, err := c.Access(conn, ble.OpWrite, value)
	if err != nil || status != ble.StatusSuccess {
		s.log.WithField("uuid", c.UUID).WithError(err).Warnf("write status 0x%02X", status)
		return
	}
	if c.Flags&ble.FlagRead != 0 {
		if err := s.Update(c.ValueHandle); err != nil {
			s.log.WithError(err).Warn("refresh value")
		}
	}
}

// Update reads the characteristic with value handle n through its Handler
// and stores the result in the adapter, notifying subscribers.
func (s *Stack) Update(n uint16) error {
	s.mu.Lock()
	h, ok := s.chars[n]
	s.mu.Unlock()
	if !ok {
		return ble.ErrAttributeNotFound
	}
	v, status, err := s.AttributeTable.Access(0, n, ble.OpRead, nil)
	if err != nil {
		return err
	}
	if status != ble.StatusSuccess {
		return fmt.Errorf("read status 0x%02X", status)
	}
	_, err = h.Write(v)
	return err
}

func (s *Stack) connectHandler(d bluetooth.Device, connected bool) {
	key := d.Address.String()
	s.mu.Lock()
	conn, known := s.conns[key]
	if connected && !known {
		s.nconn++
		conn = s.nconn
		s.conns[key] = conn
	}
	if !connected {
		delete(s.conns, key)
	}
	s.mu.Unlock()

	ev := s.events()
	switch {
	case connected && !known:
		s.stopTimer()
		ev.Connected(conn)
	case !connected && known:
		ev.Disconnected(conn, nil)
	}
}

// StartAdvertising configures the adapter from the decoded payloads.
func (s *Stack) StartAdvertising(p ble.AdvParams, adv, rsp []byte) error {
	opts, err := advOptions(p, adv, rsp)
	if err != nil {
		return err
	}
	if err := s.adv.Configure(opts); err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := s.adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}
	s.stopTimer()
	if p.Duration != ble.Forever {
		s.mu.Lock()
		s.timer = time.AfterFunc(p.Duration, s.advTimeout)
		s.mu.Unlock()
	}
	return nil
}

func (s *Stack) StopAdvertising() error {
	s.stopTimer()
	return s.adv.Stop()
}

func (s *Stack) stopTimer() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

func (s *Stack) advTimeout() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if err := s.adv.Stop(); err != nil {
		s.events().AdvertisingComplete(err)
		return
	}
	s.events().AdvertisingComplete(ble.ErrAdvTimeout)
}

func (s *Stack) events() ble.StackEvents {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ev == nil {
		return nopEvents{}
	}
	return s.ev
}

// advOptions decodes the advertising and scan response payloads into the
// fields the adapter builds its own payloads from.
func advOptions(p ble.AdvParams, adv, rsp []byte) (bluetooth.AdvertisementOptions, error) {
	var a ble.Advertisement
	if err := a.Unmarshal(adv); err != nil {
		return bluetooth.AdvertisementOptions{}, fmt.Errorf("advertising data: %w", err)
	}
	if err := a.Unmarshal(rsp); err != nil {
		return bluetooth.AdvertisementOptions{}, fmt.Errorf("scan response: %w", err)
	}
	opts := bluetooth.AdvertisementOptions{
		LocalName: a.LocalName,
		Interval:  bluetooth.NewDuration(time.Duration(p.IntervalMin) * 625 * time.Microsecond),
	}
	for _, u := range a.Services {
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, uuid(u))
	}
	if len(a.ManufacturerData) >= 2 {
		opts.ManufacturerData = []bluetooth.ManufacturerDataElement{{
			CompanyID: uint16(a.ManufacturerData[0]) | uint16(a.ManufacturerData[1])<<8,
			Data:      a.ManufacturerData[2:],
		}}
	}
	return opts, nil
}

func uuid(u ble.UUID) bluetooth.UUID {
	b := u.Bytes()
	switch len(b) {
	case 2:
		return bluetooth.New16BitUUID(uint16(b[0])<<8 | uint16(b[1]))
	case 4:
		return bluetooth.New32BitUUID(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
	}
	var a [16]byte
	copy(a[:], b)
	return bluetooth.NewUUID(a)
}

func permissions(f ble.Flags) bluetooth.CharacteristicPermissions {
	var p bluetooth.CharacteristicPermissions
	if f&ble.FlagRead != 0 {
		p |= bluetooth.CharacteristicReadPermission
	}
	if f&ble.FlagWrite != 0 {
		p |= bluetooth.CharacteristicWritePermission
	}
	if f&ble.FlagNotify != 0 {
		p |= bluetooth.CharacteristicNotifyPermission
	}
	if f&ble.FlagIndicate != 0 {
		p |= bluetooth.CharacteristicIndicatePermission
	}
	return p
}

type nopEvents struct{}

func (nopEvents) Synced()                    {}
func (nopEvents) Reset(error)                {}
func (nopEvents) Connected(uint16)           {}
func (nopEvents) Disconnected(uint16, error) {}
func (nopEvents) AdvertisingComplete(error)  {}
func (nopEvents) MTUChanged(uint16, uint16)  {}
