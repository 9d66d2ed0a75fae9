// Package bletest provides an in-memory ble.Stack that plays both the
// controller and the remote peer, for tests and for simulating a profile
// without hardware.
package bletest

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/XC-/ble"
	"github.com/sirupsen/logrus"
)

// ErrInjected is a ready-made error to inject into a Stack stage.
var ErrInjected = errors.New("bletest: injected failure")

// A Stage is a stack operation that can be made to fail.
type Stage int

const (
	StageEnable Stage = iota
	StageCount
	StageAdd
	StageStart
	StageStop
)

func (s Stage) String() string {
	switch s {
	case StageEnable:
		return "enable"
	case StageCount:
		return "count"
	case StageAdd:
		return "add"
	case StageStart:
		return "start"
	case StageStop:
		return "stop"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Advertising records one call to StartAdvertising.
type Advertising struct {
	Params ble.AdvParams
	Adv    []byte
	Rsp    []byte
}

// Stack is a loopback ble.Stack. Unless Manual is set, it reports itself
// synced from Enable.
type Stack struct {
	*ble.AttributeTable

	// Manual leaves Sync to the caller.
	Manual bool

	// Addr is the controller address reported for a public address type.
	Addr ble.Addr

	log     logrus.FieldLogger
	ev      ble.StackEvents
	own     ble.Addr
	ownType ble.AddrType
	fail    map[Stage]error
	history []Advertising
	on      bool

	mu sync.Mutex
}

// New returns a stack. If l is nil, nothing is logged.
func New(l logrus.FieldLogger) *Stack {
	if l == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		l = lg
	}
	l = l.WithField("component", "bletest")
	return &Stack{
		AttributeTable: ble.NewAttributeTable(l),
		Addr:           ble.Addr{0x00, 0x1A, 0x7D, 0xDA, 0x71, 0x13},
		log:            l,
		fail:           map[Stage]error{},
	}
}

// Fail makes stage return err until it is cleared with a nil err.
func (s *Stack) Fail(stage Stage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, stage)
		return
	}
	s.fail[stage] = err
}

func (s *Stack) failure(stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail[stage]
}

func (s *Stack) Enable(t ble.AddrType, addr ble.Addr, ev ble.StackEvents) error {
	if err := s.failure(StageEnable); err != nil {
		return err
	}
	s.mu.Lock()
	if s.ev != nil {
		s.mu.Unlock()
		return errors.New("bletest: already enabled")
	}
	s.ev = ev
	s.own, s.ownType = s.Addr, ble.AddrPublic
	if t != ble.AddrPublic && !addr.IsZero() {
		s.own, s.ownType = addr, ble.AddrTypeOf(addr)
	}
	manual := s.Manual
	s.mu.Unlock()

	if !manual {
		ev.Synced()
	}
	return nil
}

func (s *Stack) Disable() error {
	s.mu.Lock()
	s.ev = nil
	s.on = false
	s.mu.Unlock()
	return nil
}

func (s *Stack) DeviceAddress() (ble.Addr, ble.AddrType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ev == nil {
		return ble.Addr{}, 0, ble.ErrNotReady
	}
	return s.own, s.ownType, nil
}

func (s *Stack) CountConfig(svc *ble.Service) error {
	if err := s.failure(StageCount); err != nil {
		return err
	}
	return s.AttributeTable.CountConfig(svc)
}

func (s *Stack) AddService(svc *ble.Service) error {
	if err := s.failure(StageAdd); err != nil {
		return err
	}
	return s.AttributeTable.AddService(svc)
}

func (s *Stack) StartAdvertising(p ble.AdvParams, adv, rsp []byte) error {
	if err := s.failure(StageStart); err != nil {
		return err
	}
	if len(adv) > ble.MaxEIRPacketLength || len(rsp) > ble.MaxEIRPacketLength {
		return ble.ErrEIRPacketTooLong
	}
	s.mu.Lock()
	s.history = append(s.history, Advertising{
		Params: p,
		Adv:    append([]byte(nil), adv...),
		Rsp:    append([]byte(nil), rsp...),
	})
	s.on = true
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"mode": p.Mode, "adv": fmt.Sprintf("% X", adv)}).Debug("advertising")
	return nil
}

func (s *Stack) StopAdvertising() error {
	if err := s.failure(StageStop); err != nil {
		return err
	}
	s.mu.Lock()
	s.on = false
	s.mu.Unlock()
	return nil
}

// Advertising reports whether the stack is on air.
func (s *Stack) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// History returns every advertising start, oldest first.
func (s *Stack) History() []Advertising {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Advertising(nil), s.history...)
}

// Last returns the most recent advertising start.
func (s *Stack) Last() (Advertising, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Advertising{}, false
	}
	return s.history[len(s.history)-1], true
}

func (s *Stack) events() ble.StackEvents {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ev == nil {
		panic("bletest: stack not enabled")
	}
	return s.ev
}

// Sync reports the controller in sync.
func (s *Stack) Sync() { s.events().Synced() }

// Reset reports the controller lost.
func (s *Stack) Reset(reason error) { s.events().Reset(reason) }

// Connect connects a peer on conn. Advertising stops, as a controller
// stops it on connection.
func (s *Stack) Connect(conn uint16) {
	s.mu.Lock()
	s.on = false
	s.mu.Unlock()
	s.events().Connected(conn)
}

func (s *Stack) Disconnect(conn uint16, reason error) {
	s.events().Disconnected(conn, reason)
}

// EndAdvertising ends advertising for reason: nil or ble.ErrAdvTimeout
// for an elapsed duration.
func (s *Stack) EndAdvertising(reason error) {
	s.mu.Lock()
	s.on = false
	s.mu.Unlock()
	s.events().AdvertisingComplete(reason)
}

// ExchangeMTU reports an MTU exchange on conn.
func (s *Stack) ExchangeMTU(conn, mtu uint16) { s.events().MTUChanged(conn, mtu) }

// Read reads the characteristic value at handle n as peer conn.
func (s *Stack) Read(conn, n uint16) ([]byte, error) {
	v, status, err := s.Access(conn, n, ble.OpRead, nil)
	if err != nil {
		return nil, err
	}
	if status != ble.StatusSuccess {
		return nil, fmt.Errorf("bletest: read 0x%04X: status 0x%02X", n, status)
	}
	return v, nil
}

// Write writes the characteristic value at handle n as peer conn.
func (s *Stack) Write(conn, n uint16, data []byte) error {
	_, status, err := s.Access(conn, n, ble.OpWrite, data)
	if err != nil {
		return err
	}
	if status != ble.StatusSuccess {
		return fmt.Errorf("bletest: write 0x%04X: status 0x%02X", n, status)
	}
	return nil
}

// Find returns the value handle of the first characteristic with UUID u.
func (s *Stack) Find(u ble.UUID) (uint16, bool) {
	for _, svc := range s.Services() {
		for _, c := range svc.Characteristics() {
			if c.UUID.Equal(u) {
				return c.ValueHandle, true
			}
		}
	}
	return 0, false
}
