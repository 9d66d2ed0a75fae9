// Package linux is a ble.Stack that drives a Bluetooth controller over a
// Linux HCI socket. It configures and runs advertising and keeps the
// attribute table in process; it has no ATT server, so peer accesses are
// delivered with Access.
package linux

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/XC-/ble"
	"github.com/sirupsen/logrus"
)

// HCI is a ble.Stack over an HCI transport.
type HCI struct {
	*ble.AttributeTable

	d   io.ReadWriteCloser
	c   *cmd
	e   *event
	evc chan []byte // events other than command completions, in order
	log logrus.FieldLogger

	ev       ble.StackEvents
	addr     ble.Addr
	addrType ble.AddrType
	advTimer *time.Timer

	mu sync.Mutex
}

// NewHCI opens HCI device n, preferring exclusive access through the user
// channel.
func NewHCI(n int, l logrus.FieldLogger) (*HCI, error) {
	d, err := newSocket(n)
	if err != nil {
		return nil, fmt.Errorf("open hci%d: %w", n, err)
	}
	return New(d, l), nil
}

// New returns a stack that speaks HCI over d. If l is nil, nothing is
// logged.
func New(d io.ReadWriteCloser, l logrus.FieldLogger) *HCI {
	if l == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		l = lg
	}
	l = l.WithField("component", "hci")
	h := &HCI{
		AttributeTable: ble.NewAttributeTable(l),
		d:              d,
		c:              newCmd(d, l),
		e:              newEvent(),
		evc:            make(chan []byte, 16),
		log:            l,
	}
	h.e.handleEvent(commandComplete, handlerFunc(h.c.handleComplete))
	h.e.handleEvent(commandStatus, handlerFunc(h.c.handleStatus))
	h.e.handleEvent(disconnectionComplete, handlerFunc(h.handleDisconnectionComplete))
	h.e.handleEvent(hardwareError, handlerFunc(h.handleHardwareError))
	h.e.handleLEEvent(leConnectionComplete, handlerFunc(h.handleLEConnectionComplete))
	return h
}

// Enable resets the controller, sets up the own address and reports the
// stack as synced.
func (h *HCI) Enable(t ble.AddrType, addr ble.Addr, ev ble.StackEvents) error {
	h.mu.Lock()
	if h.ev != nil {
		h.mu.Unlock()
		return fmt.Errorf("hci already enabled")
	}
	h.ev = ev
	h.mu.Unlock()

	go h.mainLoop()
	go h.eventLoop()
	if err := h.resetDevice(); err != nil {
		return err
	}

	var rp readBDADDRRP
	rsp, err := h.c.send(readBDADDR{})
	if err != nil {
		return err
	}
	if err := rp.unmarshal(rsp); err != nil {
		return err
	}
	own, ownType := ble.Addr(rp.bdaddr), ble.AddrPublic
	if t != ble.AddrPublic && !addr.IsZero() {
		if err := h.c.sendAndCheckResp(leSetRandomAddress{randomAddress: addr}, []byte{0x00}); err != nil {
			return err
		}
		own, ownType = addr, ble.AddrTypeOf(addr)
	}
	if t == ble.AddrPrivateRPA {
		if err := h.c.sendAndCheckResp(leSetAddressResolutionEnable{enable: 1}, []byte{0x00}); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.addr, h.addrType = own, ownType
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"addr": own, "type": ownType}).Info("controller ready")
	ev.Synced()
	return nil
}

// Disable stops advertising and closes the transport.
func (h *HCI) Disable() error {
	h.stopTimer()
	h.c.sendAndCheckResp(leSetAdvertiseEnable{advertisingEnable: 0}, nil)
	h.mu.Lock()
	h.ev = nil
	h.mu.Unlock()
	return h.d.Close()
}

func (h *HCI) DeviceAddress() (ble.Addr, ble.AddrType, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ev == nil {
		return ble.Addr{}, 0, ble.ErrNotReady
	}
	return h.addr, h.addrType, nil
}

func advType(m ble.AdvMode) uint8 {
	switch m {
	case ble.AdvDirectInd:
		return advDirectInd
	case ble.AdvNonconnInd:
		return advNonconnInd
	case ble.AdvScanInd:
		return advScanInd
	}
	return advInd
}

// StartAdvertising programs the advertising parameters and payloads, then
// enables advertising. A finite duration is enforced by the host.
func (h *HCI) StartAdvertising(p ble.AdvParams, adv, rsp []byte) error {
	if len(adv) > ble.MaxEIRPacketLength || len(rsp) > ble.MaxEIRPacketLength {
		return ble.ErrEIRPacketTooLong
	}
	own := uint8(ownAddrPublic)
	if p.OwnAddr != ble.AddrPublic {
		own = ownAddrRandom
	}
	if err := h.c.sendAndCheckResp(
		leSetAdvertisingParameters{
			advertisingIntervalMin: p.IntervalMin,
			advertisingIntervalMax: p.IntervalMax,
			advertisingType:        advType(p.Mode),
			ownAddressType:         own,
			advertisingChannelMap:  p.ChannelMap,
		}, []byte{0x00}); err != nil {
		return err
	}

	// Both Scan and Advertising take exactly 31 bytes data(and a length indicating the significant part of the data)
	ad := leSetAdvertisingData{advertisingDataLength: uint8(len(adv))}
	copy(ad.advertisingData[:], adv)
	if err := h.c.sendAndCheckResp(ad, []byte{0x00}); err != nil {
		return err
	}
	sr := leSetScanResponseData{scanResponseDataLength: uint8(len(rsp))}
	copy(sr.scanResponseData[:], rsp)
	if err := h.c.sendAndCheckResp(sr, []byte{0x00}); err != nil {
		return err
	}
	if err := h.c.sendAndCheckResp(leSetAdvertiseEnable{advertisingEnable: 1}, []byte{0x00}); err != nil {
		return err
	}

	h.stopTimer()
	if p.Duration != ble.Forever {
		h.mu.Lock()
		h.advTimer = time.AfterFunc(p.Duration, h.advTimeout)
		h.mu.Unlock()
	}
	return nil
}

// StopAdvertising disables advertising.
func (h *HCI) StopAdvertising() error {
	h.stopTimer()
	return h.c.sendAndCheckResp(leSetAdvertiseEnable{advertisingEnable: 0}, []byte{0x00})
}

func (h *HCI) stopTimer() {
	h.mu.Lock()
	if h.advTimer != nil {
		h.advTimer.Stop()
		h.advTimer = nil
	}
	h.mu.Unlock()
}

func (h *HCI) advTimeout() {
	h.mu.Lock()
	h.advTimer = nil
	h.mu.Unlock()
	err := h.c.sendAndCheckResp(leSetAdvertiseEnable{advertisingEnable: 0}, []byte{0x00})
	if err != nil {
		h.log.WithError(err).Warn("disable advertising")
		h.events().AdvertisingComplete(err)
		return
	}
	h.events().AdvertisingComplete(ble.ErrAdvTimeout)
}

func (h *HCI) events() ble.StackEvents {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ev == nil {
		return nopEvents{}
	}
	return h.ev
}

func (h *HCI) mainLoop() {
	defer close(h.evc)
	b := make([]byte, 4096)
	for {
		n, err := h.d.Read(b)
		if err != nil {
			h.log.WithError(err).Debug("hci read loop done")
			return
		}
		if n == 0 {
			return
		}
		p := make([]byte, n)
		copy(p, b)
		h.handlePacket(p)
	}
}

func (h *HCI) handlePacket(b []byte) {
	t, b := packetType(b[0]), b[1:]
	var err error
	switch t {
	case typEventPkt:
		// Command completions are handled here, so that event handlers
		// running on eventLoop may issue commands.
		if len(b) > 0 && (eventCode(b[0]) == commandComplete || eventCode(b[0]) == commandStatus) {
			err = h.e.dispatch(b)
			break
		}
		h.evc <- b
	case typACLDataPkt:
		// No ATT server; ACL data is dropped.
	default:
		err = fmt.Errorf("unsupported packet type 0x%02X", uint8(t))
	}
	if err != nil {
		h.log.WithError(err).Warnf("hci: [ % X ]", b)
	}
}

func (h *HCI) eventLoop() {
	for b := range h.evc {
		if err := h.e.dispatch(b); err != nil {
			h.log.WithError(err).Warnf("hci: [ % X ]", b)
		}
	}
}

func (h *HCI) resetDevice() error {
	seq := []cmdParam{
		reset{},
		setEventMask{eventMask: 0x3dbff807fffbffff},
		leSetEventMask{leEventMask: 0x000000000000001F},
		leReadBufferSize{},
	}
	for _, s := range seq {
		if err := h.c.sendAndCheckResp(s, []byte{0x00}); err != nil {
			return err
		}
	}
	return nil
}

func (h *HCI) handleDisconnectionComplete(b []byte) error {
	var ep disconnectionCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	var reason error
	if ep.reason != 0 {
		reason = fmt.Errorf("hci disconnect reason 0x%02X", ep.reason)
	}
	h.events().Disconnected(ep.connectionHandle, reason)
	return nil
}

func (h *HCI) handleLEConnectionComplete(b []byte) error {
	var ep leConnectionCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	if ep.status != 0 {
		return fmt.Errorf("le connection failed: status 0x%02X", ep.status)
	}
	h.stopTimer()
	h.events().Connected(ep.connectionHandle)
	return nil
}

func (h *HCI) handleHardwareError(b []byte) error {
	var ep hardwareErrorEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.events().Reset(fmt.Errorf("hardware error 0x%02X", ep.hardwareCode))
	return nil
}

type nopEvents struct{}

func (nopEvents) Synced()                    {}
func (nopEvents) Reset(error)                {}
func (nopEvents) Connected(uint16)           {}
func (nopEvents) Disconnected(uint16, error) {}
func (nopEvents) AdvertisingComplete(error)  {}
func (nopEvents) MTUChanged(uint16, uint16)  {}
