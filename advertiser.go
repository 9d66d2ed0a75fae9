package ble

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AdvMode selects the advertising PDU type.
type AdvMode uint8

const (
	AdvInd        AdvMode = iota // connectable, scannable, undirected
	AdvDirectInd                 // connectable, directed
	AdvNonconnInd                // non-connectable, non-scannable, undirected
	AdvScanInd                   // non-connectable, scannable, undirected
)

func (m AdvMode) String() string {
	switch m {
	case AdvInd:
		return "ADV_IND"
	case AdvDirectInd:
		return "ADV_DIRECT_IND"
	case AdvNonconnInd:
		return "ADV_NONCONN_IND"
	case AdvScanInd:
		return "ADV_SCAN_IND"
	}
	return fmt.Sprintf("AdvMode(%d)", uint8(m))
}

// Connectable reports whether a peer may connect while advertising in m.
func (m AdvMode) Connectable() bool { return m == AdvInd || m == AdvDirectInd }

// Forever is the advertising duration that never elapses.
const Forever time.Duration = 1<<63 - 1

// AdvState is the state of an Advertiser.
type AdvState int

const (
	AdvIdle AdvState = iota
	AdvConfigured
	AdvAdvertising
	AdvStopped
)

func (s AdvState) String() string {
	str := []string{
		"Idle",
		"Configured",
		"Advertising",
		"Stopped",
	}
	if int(s) < 0 || int(s) >= len(str) {
		return "Unknown"
	}
	return str[int(s)]
}

const (
	defaultAdvInterval   = 0x00F4 // 152.5 ms
	defaultAdvChannelMap = 7
)

// AdvParams are the parameters handed to a Radio when advertising starts.
// Intervals are in controller units of 0.625 ms.
type AdvParams struct {
	Mode        AdvMode
	IntervalMin uint16
	IntervalMax uint16
	ChannelMap  uint8
	Duration    time.Duration
	OwnAddr     AddrType
}

// Radio is the part of a Stack that puts payloads on air.
type Radio interface {
	// StartAdvertising starts advertising adv, answering scan requests
	// with rsp. Both are at most MaxEIRPacketLength bytes.
	StartAdvertising(p AdvParams, adv, rsp []byte) error

	// StopAdvertising stops advertising. It is not an error to stop
	// while not advertising.
	StopAdvertising() error
}

// An Advertiser drives one advertising session on a Radio.
type Advertiser struct {
	radio Radio
	log   logrus.FieldLogger

	params AdvParams
	adv    AdvPayload
	rsp    AdvPayload
	hasAdv bool

	state AdvState
	ready bool

	// started is called, unlocked, after every successful start.
	started func()

	mu sync.Mutex
}

// NewAdvertiser returns an idle Advertiser on r. If l is nil, nothing is
// logged.
func NewAdvertiser(r Radio, l logrus.FieldLogger) *Advertiser {
	if l == nil {
		l = discardLogger()
	}
	a := &Advertiser{radio: r, log: l}
	a.Init(AdvInd)
	return a
}

// Init resets the advertiser to mode m with default parameters and empty
// payloads. Advertising in progress is stopped.
func (a *Advertiser) Init(m AdvMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.state == AdvAdvertising {
		err = a.radio.StopAdvertising()
	}
	own := a.params.OwnAddr
	a.params = AdvParams{
		Mode:        m,
		IntervalMin: defaultAdvInterval,
		IntervalMax: defaultAdvInterval,
		ChannelMap:  defaultAdvChannelMap,
		Duration:    Forever,
		OwnAddr:     own,
	}
	a.adv.Clear()
	a.rsp.Clear()
	a.hasAdv = false
	a.state = AdvIdle
	return err
}

// advUnits converts d to controller interval units.
func advUnits(d time.Duration) uint16 {
	return uint16(d / (advIntervalUnitMicros * time.Microsecond))
}

// SetInterval sets the advertising interval range. Both bounds must lie
// within 20 ms and 10.24 s, and min must not exceed max.
func (a *Advertiser) SetInterval(min, max time.Duration) error {
	if min < minAdvIntervalMillis*time.Millisecond || max > maxAdvIntervalMillis*time.Millisecond || min > max {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidInterval, min, max)
	}
	return a.update(func(p *AdvParams) {
		p.IntervalMin = advUnits(min)
		p.IntervalMax = advUnits(max)
	})
}

// SetDuration sets how long advertising lasts once started. Use Forever
// to advertise until stopped.
func (a *Advertiser) SetDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: advertising duration %v", ErrPrecondition, d)
	}
	return a.update(func(p *AdvParams) { p.Duration = d })
}

// SetChannelMap selects the primary advertising channels, one bit per
// channel 37, 38 and 39.
func (a *Advertiser) SetChannelMap(m uint8) error {
	if m == 0 || m&^7 != 0 {
		return fmt.Errorf("%w: channel map 0x%02X", ErrPrecondition, m)
	}
	return a.update(func(p *AdvParams) { p.ChannelMap = m })
}

// SetPayload sets the advertising payload. The payload is copied.
func (a *Advertiser) SetPayload(p *AdvPayload) error {
	return a.update(func(*AdvParams) {
		a.adv = *p
		a.hasAdv = true
	})
}

// SetScanResponse sets the scan response payload. The payload is copied.
func (a *Advertiser) SetScanResponse(p *AdvPayload) error {
	return a.update(func(*AdvParams) { a.rsp = *p })
}

func (a *Advertiser) setOwnAddr(t AddrType) {
	a.mu.Lock()
	a.params.OwnAddr = t
	a.mu.Unlock()
}

// update applies f. If advertising is in progress, it is restarted so the
// controller picks up the change.
func (a *Advertiser) update(f func(*AdvParams)) error {
	a.mu.Lock()
	serving := a.state == AdvAdvertising
	if serving {
		if err := a.radio.StopAdvertising(); err != nil {
			a.mu.Unlock()
			return err
		}
		a.state = AdvStopped
	}
	f(&a.params)
	if a.state == AdvIdle && a.hasAdv {
		a.state = AdvConfigured
	}
	if !serving {
		a.mu.Unlock()
		return nil
	}
	err := a.start()
	a.mu.Unlock()
	if err == nil && a.started != nil {
		a.started()
	}
	return err
}

// Params returns the current advertising parameters.
func (a *Advertiser) Params() AdvParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// Payloads returns copies of the advertising and scan response payloads.
func (a *Advertiser) Payloads() (adv, rsp AdvPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adv, a.rsp
}

// State returns the advertiser state.
func (a *Advertiser) State() AdvState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Advertiser) setReady(ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = ready
	if !ready && a.state == AdvAdvertising {
		a.state = AdvStopped
	}
}

// connected records that a peer connected. Connectable advertising
// ends when a connection is established.
func (a *Advertiser) connected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == AdvAdvertising && a.params.Mode.Connectable() {
		a.state = AdvStopped
	}
}

// Start starts advertising. It returns ErrNotReady until the stack has
// synced with the controller.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	switch {
	case !a.ready:
		a.mu.Unlock()
		return ErrNotReady
	case a.state == AdvAdvertising:
		a.mu.Unlock()
		return nil
	case !a.hasAdv:
		a.mu.Unlock()
		return fmt.Errorf("%w: advertising payload not set", ErrPrecondition)
	}
	err := a.start()
	a.mu.Unlock()
	if err == nil && a.started != nil {
		a.started()
	}
	return err
}

// start must be called with a.mu held.
func (a *Advertiser) start() error {
	if err := a.radio.StartAdvertising(a.params, a.adv.Bytes(), a.rsp.Bytes()); err != nil {
		a.log.WithError(err).Error("adv failure")
		return err
	}
	a.state = AdvAdvertising
	a.log.WithFields(logrus.Fields{
		"mode":     a.params.Mode,
		"interval": fmt.Sprintf("0x%04X-0x%04X", a.params.IntervalMin, a.params.IntervalMax),
		"adv":      a.adv.Len(),
		"rsp":      a.rsp.Len(),
	}).Debug("advertising started")
	return nil
}

// Stop stops advertising.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AdvAdvertising {
		return nil
	}
	if err := a.radio.StopAdvertising(); err != nil {
		return err
	}
	a.state = AdvStopped
	return nil
}

// Complete records that the radio ended advertising with reason, and
// returns the event to report. A nil reason or ErrAdvTimeout completes the
// session. Any other reason suspends it; a session whose duration is
// Forever is then restarted.
func (a *Advertiser) Complete(reason error) Event {
	a.mu.Lock()
	if a.state == AdvAdvertising {
		a.state = AdvStopped
	}
	if reason == nil || errors.Is(reason, ErrAdvTimeout) {
		a.mu.Unlock()
		return EventAdvComplete
	}
	a.log.WithError(reason).Error("adv stopped")
	restarted := false
	if a.params.Duration == Forever && a.ready && a.hasAdv {
		restarted = a.start() == nil
	}
	a.mu.Unlock()
	if restarted && a.started != nil {
		a.started()
	}
	return EventAdvSuspended
}
