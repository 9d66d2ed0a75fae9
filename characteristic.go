package ble

import (
	"bytes"
	"fmt"
)

// Flags select the operations a characteristic supports. Each flag is set
// independently; the values match the portable interface the firmware
// backends were written against.
type Flags uint16

const (
	FlagRead           Flags = 0x0001
	FlagWrite          Flags = 0x0002
	FlagNotify         Flags = 0x0004
	FlagIndicate       Flags = 0x0008
	FlagEncRead        Flags = 0x0010
	FlagAuthRead       Flags = 0x0020
	FlagAuthorizeRead  Flags = 0x0040
	FlagEncWrite       Flags = 0x0080
	FlagAuthWrite      Flags = 0x0100
	FlagAuthorizeWrite Flags = 0x0200
)

const securityFlags = FlagEncRead | FlagAuthRead | FlagAuthorizeRead |
	FlagEncWrite | FlagAuthWrite | FlagAuthorizeWrite

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagRead, "read"},
	{FlagWrite, "write"},
	{FlagNotify, "notify"},
	{FlagIndicate, "indicate"},
	{FlagEncRead, "enc-read"},
	{FlagAuthRead, "auth-read"},
	{FlagAuthorizeRead, "authorize-read"},
	{FlagEncWrite, "enc-write"},
	{FlagAuthWrite, "auth-write"},
	{FlagAuthorizeWrite, "authorize-write"},
}

// ParseFlag returns the flag with the given name, as printed by Flags.String.
func ParseFlag(name string) (Flags, error) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.f, nil
		}
	}
	return 0, fmt.Errorf("unknown characteristic flag %q", name)
}

func (f Flags) String() string {
	var b bytes.Buffer
	for _, fn := range flagNames {
		if f&fn.f == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(fn.name)
	}
	if b.Len() == 0 {
		return "none"
	}
	return b.String()
}

// Do not re-order the bit flags below;
// they are organized to match the BLE spec.

// Characteristic property flags.
const (
	charRead     = 1 << (iota + 1) // the characteristic may be read
	charWriteNR                    // the characteristic may be written to, with no reply
	charWrite                      // the characteristic may be written to, with a reply
	charNotify                     // the characteristic supports notifications
	charIndicate                   // the characteristic supports indications
)

// properties converts f to the characteristic property bits.
func (f Flags) properties() uint8 {
	var p uint8
	if f&FlagRead != 0 {
		p |= charRead
	}
	if f&FlagWrite != 0 {
		p |= charWrite
	}
	if f&FlagNotify != 0 {
		p |= charNotify
	}
	if f&FlagIndicate != 0 {
		p |= charIndicate
	}
	return p
}

func flagsFrom(props, secure uint8) Flags {
	var f Flags
	if props&charRead != 0 {
		f |= FlagRead
	}
	if props&charWrite != 0 {
		f |= FlagWrite
	}
	if props&charNotify != 0 {
		f |= FlagNotify
	}
	if props&charIndicate != 0 {
		f |= FlagIndicate
	}
	return f | Flags(secure)<<4
}

// An Op tags a characteristic access.
type Op uint8

const (
	OpRead  Op = 0x01
	OpWrite Op = 0x02
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Supported statuses for GATT characteristic read/write operations.
const (
	StatusSuccess           = 0x00
	StatusReadNotPermitted  = 0x02
	StatusWriteNotPermitted = 0x03
	StatusInvalidOffset     = 0x07
	StatusAttributeNotFound = 0x0A
	StatusUnexpectedError   = 0x0E
)

// DefaultReadResponseLimit is the most a Handler may write in response to
// a read: the maximum attribute value length.
const DefaultReadResponseLimit = 512

// Characteristic describes a characteristic to add to a service.
type Characteristic struct {
	Flags       Flags
	Handler     Handler
	Context     interface{} // passed back to Handler untouched
	Descriptors []Descriptor
}

// An AccessRequest is a characteristic access from a connected peer.
type AccessRequest struct {
	Conn    uint16 // connection handle
	Handle  uint16 // attribute handle of the characteristic value
	Op      Op
	Data    []byte // value written, for OpWrite
	Service *Service
	Index   int         // characteristic index within Service
	Context interface{} // bound by AddCharacteristic
}

// A ResponseWriter is used by a Handler to construct a response.
type ResponseWriter interface {
	// Write writes data to return as the characteristic value.
	Write([]byte) (int, error)
	// SetStatus reports the result of the operation. See the Status* constants.
	SetStatus(byte)
}

// A Handler serves characteristic accesses.
type Handler interface {
	ServeAccess(resp ResponseWriter, req *AccessRequest)
}

// HandlerFunc is an adapter to allow the use of
// ordinary functions as Handlers. If f is a function
// with the appropriate signature, HandlerFunc(f) is a
// Handler that calls f.
type HandlerFunc func(resp ResponseWriter, req *AccessRequest)

// ServeAccess calls f(resp, req).
func (f HandlerFunc) ServeAccess(resp ResponseWriter, req *AccessRequest) {
	f(resp, req)
}

// responseWriter is the default implementation of ResponseWriter.
type responseWriter struct {
	capacity int
	buf      *bytes.Buffer
	status   byte
}

func newResponseWriter(c int) *responseWriter {
	return &responseWriter{
		capacity: c,
		buf:      new(bytes.Buffer),
		status:   StatusSuccess,
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if avail := w.capacity - w.buf.Len(); avail < len(b) {
		return 0, fmt.Errorf("requested write %d bytes, %d available", len(b), avail)
	}
	return w.buf.Write(b)
}

func (w *responseWriter) SetStatus(status byte) { w.status = status }
func (w *responseWriter) bytes() []byte         { return w.buf.Bytes() }

// chrRecord is the arena form of a characteristic.
type chrRecord struct {
	uuid   uint16 // offset of the uuid blob; zero marks the terminator slot
	props  uint8
	ndesc  uint8
	secure uint8
	descs  uint16 // offset of the descriptor array
	defn   uint16 // declaration handle
	valuen uint16 // value handle
	cccn   uint16 // client characteristic configuration handle, if any
}

const chrRecordSize = 13

func (r *chrRecord) size() int { return chrRecordSize }

func (r *chrRecord) decode(b []byte) {
	r.uuid = le.Uint16(b[0:])
	r.props = b[2]
	r.ndesc = b[3]
	r.secure = b[4]
	r.descs = le.Uint16(b[5:])
	r.defn = le.Uint16(b[7:])
	r.valuen = le.Uint16(b[9:])
	r.cccn = le.Uint16(b[11:])
}

func (r *chrRecord) encode(b []byte) {
	le.PutUint16(b[0:], r.uuid)
	b[2] = r.props
	b[3] = r.ndesc
	b[4] = r.secure
	le.PutUint16(b[5:], r.descs)
	le.PutUint16(b[7:], r.defn)
	le.PutUint16(b[9:], r.valuen)
	le.PutUint16(b[11:], r.cccn)
}

// bindingRecord marks a handler binding slot as taken. The handler and
// context themselves live in Service.bindings, at the same index.
type bindingRecord struct {
	bound bool
}

func (r *bindingRecord) size() int { return 2 * wordSize }

func (r *bindingRecord) decode(b []byte) { r.bound = b[0] != 0 }

func (r *bindingRecord) encode(b []byte) {
	b[0] = 0
	if r.bound {
		b[0] = 1
	}
}

type binding struct {
	h   Handler
	ctx interface{}
}

// A CharacteristicDef is a read-only view of a characteristic laid out in
// a service arena, as handed to a Registrar.
type CharacteristicDef struct {
	Service     *Service // owning service
	Index       int
	UUID        UUID
	Flags       Flags
	Properties  uint8 // characteristic property bits, as sent in the declaration
	Descriptors []DescriptorDef
	DefHandle   uint16
	ValueHandle uint16
	CCCHandle   uint16
}

// Access routes an access to this characteristic through the service's
// shared dispatch.
func (c CharacteristicDef) Access(conn uint16, op Op, data []byte) ([]byte, byte, error) {
	return c.Service.Access(conn, c.ValueHandle, op, data)
}

// HasCCC reports whether the characteristic needs a client characteristic
// configuration descriptor.
func (c CharacteristicDef) HasCCC() bool {
	return c.Properties&(charNotify|charIndicate) != 0
}
