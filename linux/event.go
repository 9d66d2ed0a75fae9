package linux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type eventHandler interface {
	handleEvent([]byte) error
}

type handlerFunc func(b []byte) error

func (f handlerFunc) handleEvent(b []byte) error {
	return f(b)
}

type event struct {
	evtHandlers map[eventCode]eventHandler
	leHandlers  map[leEventCode]eventHandler
}

func newEvent() *event {
	e := &event{
		evtHandlers: map[eventCode]eventHandler{},
		leHandlers:  map[leEventCode]eventHandler{},
	}
	e.handleEvent(leMeta, handlerFunc(e.dispatchLE))
	return e
}

func (e *event) handleEvent(c eventCode, h eventHandler) {
	e.evtHandlers[c] = h
}

func (e *event) handleLEEvent(c leEventCode, h eventHandler) {
	e.leHandlers[c] = h
}

func (e *event) dispatch(b []byte) error {
	h := &eventHeader{}
	if err := h.unmarshal(b); err != nil {
		return err
	}
	b = b[2:] // Skip Event Header (uint8 + uint8)
	if f, found := e.evtHandlers[h.code]; found {
		return f.handleEvent(b)
	}
	return nil
}

func (e *event) dispatchLE(b []byte) error {
	if len(b) < 1 {
		return errors.New("empty LE meta event")
	}
	if f, found := e.leHandlers[leEventCode(b[0])]; found {
		return f.handleEvent(b)
	}
	return nil
}

type eventCode uint8

const (
	disconnectionComplete eventCode = 0x05
	commandComplete       eventCode = 0x0E
	commandStatus         eventCode = 0x0F
	hardwareError         eventCode = 0x10
	leMeta                eventCode = 0x3E
)

var eventName = map[eventCode]string{
	disconnectionComplete: "Disconnection Complete",
	commandComplete:       "Command Complete",
	commandStatus:         "Command status",
	hardwareError:         "Hardware Error",
	leMeta:                "LE Meta",
}

func (e eventCode) String() string {
	if s, ok := eventName[e]; ok {
		return s
	}
	return fmt.Sprintf("event(0x%02X)", uint8(e))
}

type leEventCode eventCode

const leConnectionComplete leEventCode = 0x01

type eventHeader struct {
	code eventCode
	plen uint8
}

func (h *eventHeader) unmarshal(b []byte) error {
	if len(b) < 2 {
		return errors.New("malformed header")
	}
	h.code = eventCode(b[0])
	h.plen = b[1]
	if len(b) != 2+int(h.plen) {
		return errors.New("wrong length")
	}
	return nil
}

func (h *eventHeader) String() string {
	return fmt.Sprintf("> HCI Event: %s (0x%02X) plen: %02X", h.code, uint8(h.code), h.plen)
}

// Event Parameters

type disconnectionCompleteEP struct {
	status           uint8
	connectionHandle uint16
	reason           uint8
}

func (ep *disconnectionCompleteEP) unmarshal(b []byte) error {
	buf := bytes.NewBuffer(b)
	binary.Read(buf, binary.LittleEndian, &ep.status)
	binary.Read(buf, binary.LittleEndian, &ep.connectionHandle)
	return binary.Read(buf, binary.LittleEndian, &ep.reason)
}

type commandCompleteEP struct {
	numHCICommandPackets uint8
	commandOPCode        uint16
	returnParameters     []byte
}

func (ep *commandCompleteEP) unmarshal(b []byte) error {
	buf := bytes.NewBuffer(b)
	if err := binary.Read(buf, binary.LittleEndian, &ep.numHCICommandPackets); err != nil {
		return err
	}
	if err := binary.Read(buf, binary.LittleEndian, &ep.commandOPCode); err != nil {
		return err
	}
	ep.returnParameters = buf.Bytes()
	return nil
}

type commandStatusEP struct {
	status               uint8
	numHCICommandPackets uint8
	commandOpcode        uint16
}

func (ep *commandStatusEP) unmarshal(b []byte) error {
	buf := bytes.NewBuffer(b)
	binary.Read(buf, binary.LittleEndian, &ep.status)
	binary.Read(buf, binary.LittleEndian, &ep.numHCICommandPackets)
	return binary.Read(buf, binary.LittleEndian, &ep.commandOpcode)
}

type hardwareErrorEP struct {
	hardwareCode uint8
}

func (ep *hardwareErrorEP) unmarshal(b []byte) error {
	if len(b) < 1 {
		return errors.New("malformed Hardware Error event")
	}
	ep.hardwareCode = b[0]
	return nil
}

type leConnectionCompleteEP struct {
	subeventCode        uint8
	status              uint8
	connectionHandle    uint16
	role                uint8
	peerAddressType     uint8
	peerAddress         [6]byte
	connInterval        uint16
	connLatency         uint16
	supervisionTimeout  uint16
	masterClockAccuracy uint8
}

func (ep *leConnectionCompleteEP) unmarshal(b []byte) error {
	if len(b) < 19 {
		return errors.New("malformed LE Connection Complete event")
	}
	ep.subeventCode = b[0]
	ep.status = b[1]
	ep.connectionHandle = o.Uint16(b[2:])
	ep.role = b[4]
	ep.peerAddressType = b[5]
	ep.peerAddress = o.MAC(b[6:])
	ep.connInterval = o.Uint16(b[12:])
	ep.connLatency = o.Uint16(b[14:])
	ep.supervisionTimeout = o.Uint16(b[16:])
	ep.masterClockAccuracy = b[18]
	return nil
}
