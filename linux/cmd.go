package linux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// cmdTimeout bounds the wait for a Command Complete or Command Status.
const cmdTimeout = 2 * time.Second

var errCmdTimeout = errors.New("hci command timed out")

type cmdParam interface {
	marshal([]byte)
	opcode() opcode
	len() int
}

func newCmd(d io.Writer, l logrus.FieldLogger) *cmd {
	return &cmd{
		dev:  d,
		log:  l,
		sent: map[opcode]*cmdPkt{},
	}
}

type cmdPkt struct {
	op   opcode
	cp   cmdParam
	done chan []byte
}

func (c cmdPkt) marshal() []byte {
	b := make([]byte, 1+2+1+c.cp.len())
	b[0] = byte(typCommandPkt)
	b[1], b[2] = byte(c.op), byte(c.op>>8)
	b[3] = byte(c.cp.len())
	c.cp.marshal(b[4:])
	return b
}

type cmd struct {
	dev  io.Writer
	log  logrus.FieldLogger
	sent map[opcode]*cmdPkt
	mu   sync.Mutex

	// sendmu serializes commands; controllers here accept one at a time.
	sendmu sync.Mutex
}

func (c *cmd) handleComplete(b []byte) error {
	var ep commandCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	return c.complete(opcode(ep.commandOPCode), ep.returnParameters)
}

func (c *cmd) handleStatus(b []byte) error {
	var ep commandStatusEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	return c.complete(opcode(ep.commandOpcode), []byte{ep.status})
}

func (c *cmd) complete(op opcode, rsp []byte) error {
	c.mu.Lock()
	p, found := c.sent[op]
	delete(c.sent, op)
	c.mu.Unlock()
	if !found {
		// NOP completions announce free command slots.
		if op == 0 {
			return nil
		}
		return fmt.Errorf("no pending command for %s (0x%04X)", op, uint16(op))
	}
	p.done <- rsp
	return nil
}

func (c *cmd) send(cp cmdParam) ([]byte, error) {
	c.sendmu.Lock()
	defer c.sendmu.Unlock()

	op := cp.opcode()
	p := &cmdPkt{op: op, cp: cp, done: make(chan []byte, 1)}
	raw := p.marshal()

	c.log.Debugf("< HCI Command: %s (0x%02X|0x%04X) plen: %d [ % X ]", op, op.ogf(), op.ocf(), len(raw)-4, raw)
	c.mu.Lock()
	c.sent[op] = p
	c.mu.Unlock()
	if n, err := c.dev.Write(raw); err != nil {
		c.forget(op)
		return nil, err
	} else if n != len(raw) {
		c.forget(op)
		return nil, errors.New("failed to send whole cmd pkt to HCI socket")
	}
	select {
	case rsp := <-p.done:
		return rsp, nil
	case <-time.After(cmdTimeout):
		c.forget(op)
		return nil, fmt.Errorf("%s: %w", op, errCmdTimeout)
	}
}

func (c *cmd) forget(op opcode) {
	c.mu.Lock()
	delete(c.sent, op)
	c.mu.Unlock()
}

func (c *cmd) sendAndCheckResp(cp cmdParam, exp []byte) error {
	rsp, err := c.send(cp)
	if err != nil {
		return err
	}
	// Don't care about the response
	if len(exp) == 0 {
		return nil
	}
	if len(rsp) == 0 {
		return fmt.Errorf("HCI command: '%s' returned no status", cp.opcode())
	}
	// Check the if status is one of the expected value
	if !bytes.Contains(exp, rsp[0:1]) {
		return fmt.Errorf("HCI command: '%s' return 0x%02X, expect: [%X] ", cp.opcode(), rsp[0], exp)
	}
	return nil
}

const (
	hostCtl   = 0x03
	infoParam = 0x04
	leCtl     = 0x08
)

type opcode uint16

func (op opcode) ogf() uint8  { return uint8((uint16(op) & 0xFC00) >> 10) }
func (op opcode) ocf() uint16 { return uint16(op) & 0x03FF }

func (op opcode) String() string {
	if s, ok := opName[op]; ok {
		return s
	}
	return fmt.Sprintf("opcode(0x%04X)", uint16(op))
}

const (
	opSetEventMask = opcode(hostCtl<<10 | 0x0001)
	opReset        = opcode(hostCtl<<10 | 0x0003)

	opReadBDADDR = opcode(infoParam<<10 | 0x0009)

	opLESetEventMask               = opcode(leCtl<<10 | 0x0001)
	opLEReadBufferSize             = opcode(leCtl<<10 | 0x0002)
	opLESetRandomAddress           = opcode(leCtl<<10 | 0x0005)
	opLESetAdvertisingParameters   = opcode(leCtl<<10 | 0x0006)
	opLESetAdvertisingData         = opcode(leCtl<<10 | 0x0008)
	opLESetScanResponseData        = opcode(leCtl<<10 | 0x0009)
	opLESetAdvertiseEnable         = opcode(leCtl<<10 | 0x000A)
	opLESetAddressResolutionEnable = opcode(leCtl<<10 | 0x002D)
)

var opName = map[opcode]string{
	opSetEventMask:                 "Set Event Mask",
	opReset:                        "Reset",
	opReadBDADDR:                   "Read BD_ADDR",
	opLESetEventMask:               "LE Set Event Mask",
	opLEReadBufferSize:             "LE Read Buffer Size",
	opLESetRandomAddress:           "LE Set Random Address",
	opLESetAdvertisingParameters:   "LE Set Advertising Parameters",
	opLESetAdvertisingData:         "LE Set Advertising Data",
	opLESetScanResponseData:        "LE Set Scan Response Data",
	opLESetAdvertiseEnable:         "LE Set Advertise Enable",
	opLESetAddressResolutionEnable: "LE Set Address Resolution Enable",
}

// Host Control Commands

// Set Event Mask (0x0001)
type setEventMask struct{ eventMask uint64 }

func (c setEventMask) opcode() opcode   { return opSetEventMask }
func (c setEventMask) len() int         { return 8 }
func (c setEventMask) marshal(b []byte) { o.PutUint64(b, c.eventMask) }

// Reset (0x0003)
type reset struct{}

func (c reset) opcode() opcode   { return opReset }
func (c reset) len() int         { return 0 }
func (c reset) marshal(b []byte) {}

// Informational Parameters

// Read BD_ADDR (0x0009)
type readBDADDR struct{}

func (c readBDADDR) opcode() opcode   { return opReadBDADDR }
func (c readBDADDR) len() int         { return 0 }
func (c readBDADDR) marshal(b []byte) {}

type readBDADDRRP struct {
	status uint8
	bdaddr [6]byte
}

func (rp *readBDADDRRP) unmarshal(b []byte) error {
	if len(b) < 7 {
		return errors.New("malformed Read BD_ADDR response")
	}
	rp.status = b[0]
	rp.bdaddr = o.MAC(b[1:])
	return nil
}

// LE Controller Commands

// LE Set Event Mask (0x0001)
type leSetEventMask struct{ leEventMask uint64 }

func (c leSetEventMask) opcode() opcode   { return opLESetEventMask }
func (c leSetEventMask) len() int         { return 8 }
func (c leSetEventMask) marshal(b []byte) { o.PutUint64(b, c.leEventMask) }

// LE Read Buffer Size (0x0002)
type leReadBufferSize struct{}

func (c leReadBufferSize) opcode() opcode   { return opLEReadBufferSize }
func (c leReadBufferSize) len() int         { return 0 }
func (c leReadBufferSize) marshal(b []byte) {}

// LE Set Random Address (0x0005)
type leSetRandomAddress struct{ randomAddress [6]byte }

func (c leSetRandomAddress) opcode() opcode   { return opLESetRandomAddress }
func (c leSetRandomAddress) len() int         { return 6 }
func (c leSetRandomAddress) marshal(b []byte) { o.PutMAC(b, c.randomAddress) }

// LE Set Advertising Parameters (0x0006)
type leSetAdvertisingParameters struct {
	advertisingIntervalMin  uint16
	advertisingIntervalMax  uint16
	advertisingType         uint8
	ownAddressType          uint8
	directAddressType       uint8
	directAddress           [6]byte
	advertisingChannelMap   uint8
	advertisingFilterPolicy uint8
}

func (c leSetAdvertisingParameters) opcode() opcode { return opLESetAdvertisingParameters }
func (c leSetAdvertisingParameters) len() int       { return 15 }
func (c leSetAdvertisingParameters) marshal(b []byte) {
	o.PutUint16(b[0:], c.advertisingIntervalMin)
	o.PutUint16(b[2:], c.advertisingIntervalMax)
	b[4] = c.advertisingType
	b[5] = c.ownAddressType
	b[6] = c.directAddressType
	o.PutMAC(b[7:], c.directAddress)
	b[13] = c.advertisingChannelMap
	b[14] = c.advertisingFilterPolicy
}

// LE Set Advertising Data (0x0008)
type leSetAdvertisingData struct {
	advertisingDataLength uint8
	advertisingData       [31]byte
}

func (c leSetAdvertisingData) opcode() opcode { return opLESetAdvertisingData }
func (c leSetAdvertisingData) len() int       { return 32 }
func (c leSetAdvertisingData) marshal(b []byte) {
	b[0] = c.advertisingDataLength
	copy(b[1:], c.advertisingData[:])
}

// LE Set Scan Response Data (0x0009)
type leSetScanResponseData struct {
	scanResponseDataLength uint8
	scanResponseData       [31]byte
}

func (c leSetScanResponseData) opcode() opcode { return opLESetScanResponseData }
func (c leSetScanResponseData) len() int       { return 32 }
func (c leSetScanResponseData) marshal(b []byte) {
	b[0] = c.scanResponseDataLength
	copy(b[1:], c.scanResponseData[:])
}

// LE Set Advertising Enable (0x000A)
type leSetAdvertiseEnable struct{ advertisingEnable uint8 }

func (c leSetAdvertiseEnable) opcode() opcode   { return opLESetAdvertiseEnable }
func (c leSetAdvertiseEnable) len() int         { return 1 }
func (c leSetAdvertiseEnable) marshal(b []byte) { b[0] = c.advertisingEnable }

// LE Set Address Resolution Enable (0x002D)
type leSetAddressResolutionEnable struct{ enable uint8 }

func (c leSetAddressResolutionEnable) opcode() opcode   { return opLESetAddressResolutionEnable }
func (c leSetAddressResolutionEnable) len() int         { return 1 }
func (c leSetAddressResolutionEnable) marshal(b []byte) { b[0] = c.enable }
