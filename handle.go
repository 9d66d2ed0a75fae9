package ble

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

type handleType int

const (
	typService handleType = iota
	typCharacteristic
	typCharacteristicValue
	typClientCharacteristicConfig
	typDescriptor
)

func (t handleType) String() string {
	switch t {
	case typService:
		return "service"
	case typCharacteristic:
		return "characteristic"
	case typCharacteristicValue:
		return "value"
	case typClientCharacteristicConfig:
		return "ccc"
	case typDescriptor:
		return "descriptor"
	}
	return "unknown"
}

// handle is one row of the attribute table.
type handle struct {
	n     uint16 // gatt handle number
	endn  uint16 // last handle of the group, for services
	typ   handleType
	uuid  UUID
	svc   *Service
	value []byte // static value: declarations and descriptors
	ccc   uint16 // current client configuration, for typClientCharacteristicConfig
}

// An Attribute is a read-only view of an attribute table row.
type Attribute struct {
	Handle    uint16
	EndHandle uint16 // last handle of the service, for service declarations
	Type      string
	UUID      UUID
	Value     []byte
}

// AttributeTable is an in-process GATT database. It implements Registrar,
// assigning contiguous attribute handles to registered services, and
// routes peer accesses back to each service's dispatch.
//
// Like Service, AttributeTable is configured from a single goroutine.
type AttributeTable struct {
	r    handleRange
	next uint16
	svcs []*Service
	log  logrus.FieldLogger
}

// NewAttributeTable returns an empty table whose first handle is 1.
// If l is nil, registration is not logged.
func NewAttributeTable(l logrus.FieldLogger) *AttributeTable {
	if l == nil {
		l = discardLogger()
	}
	return &AttributeTable{r: handleRange{base: 1}, next: 1, log: l}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// handleCount returns the number of attribute handles s occupies.
func handleCount(s *Service) int {
	n := 1
	for _, c := range s.Characteristics() {
		n += 2 + len(c.Descriptors)
		if c.HasCCC() {
			n++
		}
	}
	return n
}

// CountConfig checks that s is new to t and fits in the handle space.
func (t *AttributeTable) CountConfig(s *Service) error {
	for _, svc := range t.svcs {
		if svc == s {
			return fmt.Errorf("service %s already in table", s.UUID())
		}
	}
	if int(t.next)+handleCount(s)-1 > 0xFFFF || t.next == 0 {
		return fmt.Errorf("%w: service %s needs %d handles from 0x%04X", ErrHandleSpace, s.UUID(), handleCount(s), t.next)
	}
	return nil
}

// AddService assigns handles to s and its characteristics and records
// them in the service arena.
func (t *AttributeTable) AddService(s *Service) error {
	if err := t.CountConfig(s); err != nil {
		return err
	}
	n := t.next
	svcUUID := gattAttrSecondaryServiceUUID
	if s.Primary() {
		svcUUID = gattAttrPrimaryServiceUUID
	}
	start := len(t.r.hh)
	t.r.hh = append(t.r.hh, handle{
		n:     n,
		typ:   typService,
		uuid:  svcUUID,
		svc:   s,
		value: s.UUID().reverseBytes(),
		// endn set later
	})
	t.log.Debugf("registered service %s with handle=%d", s.UUID(), n)

	for i, c := range s.Characteristics() {
		defn, valuen := n+1, n+2
		n += 2
		decl := make([]byte, 3, 3+c.UUID.Len())
		decl[0] = c.Properties
		le.PutUint16(decl[1:], valuen)
		decl = append(decl, c.UUID.reverseBytes()...)
		t.r.hh = append(t.r.hh,
			handle{n: defn, typ: typCharacteristic, uuid: gattAttrCharacteristicUUID, svc: s, value: decl},
			handle{n: valuen, typ: typCharacteristicValue, uuid: c.UUID, svc: s},
		)

		var cccn uint16
		if c.HasCCC() {
			n++
			cccn = n
			t.r.hh = append(t.r.hh, handle{
				n:    cccn,
				typ:  typClientCharacteristicConfig,
				uuid: gattAttrClientCharacteristicConfigUUID,
				svc:  s,
			})
		}

		descn := make([]uint16, len(c.Descriptors))
		for j, d := range c.Descriptors {
			n++
			descn[j] = n
			t.r.hh = append(t.r.hh, handle{n: n, typ: typDescriptor, uuid: d.UUID, svc: s, value: d.Value})
			t.log.Debugf("registered descriptor %s with handle=%d", d.UUID, n)
		}
		s.setHandles(i, defn, valuen, cccn, descn)
		t.log.Debugf("registered characteristic %s with def_handle=%d val_handle=%d", c.UUID, defn, valuen)
	}

	t.r.hh[start].endn = n
	t.next = n + 1
	if n == 0xFFFF {
		t.next = 0 // handle space is full
	}
	t.svcs = append(t.svcs, s)
	return nil
}

// GAPServices builds the mandatory GAP and GATT services for a device
// called name. Each service gets its own arena.
func GAPServices(name string) ([]*Service, error) {
	gap, err := CreateService(make([]byte, ArenaSize(2)), gattAttrGAPUUID, true, 2)
	if err != nil {
		return nil, err
	}
	chars := []struct {
		u     UUID
		value []byte
	}{
		{gattAttrDeviceNameUUID, []byte(name)},
		{gattAttrAppearanceUUID, gapCharAppearanceGenericComputer},
	}
	for _, c := range chars {
		if err := gap.AddCharacteristic(c.u, Characteristic{Flags: FlagRead, Handler: staticValue(c.value)}); err != nil {
			return nil, err
		}
	}
	gatt, err := CreateService(make([]byte, ArenaSize(0)), gattAttrGATTUUID, true, 0)
	if err != nil {
		return nil, err
	}
	return []*Service{gap, gatt}, nil
}

// staticValue serves reads of a fixed value.
func staticValue(b []byte) Handler {
	return HandlerFunc(func(resp ResponseWriter, req *AccessRequest) {
		resp.Write(b)
	})
}

// Services returns the registered services, in registration order.
func (t *AttributeTable) Services() []*Service {
	return append([]*Service(nil), t.svcs...)
}

// Attributes returns every attribute in handle order.
func (t *AttributeTable) Attributes() []Attribute {
	aa := make([]Attribute, len(t.r.hh))
	for i, h := range t.r.hh {
		aa[i] = h.attribute()
	}
	return aa
}

// Range returns the attributes with handles in [start, end].
func (t *AttributeTable) Range(start, end uint16) []Attribute {
	hh := t.r.Subrange(start, end)
	aa := make([]Attribute, len(hh))
	for i, h := range hh {
		aa[i] = h.attribute()
	}
	return aa
}

// At returns the attribute with handle n.
func (t *AttributeTable) At(n uint16) (Attribute, bool) {
	h, ok := t.r.At(n)
	if !ok {
		return Attribute{}, false
	}
	return h.attribute(), true
}

func (h handle) attribute() Attribute {
	a := Attribute{Handle: h.n, Type: h.typ.String(), UUID: h.uuid, Value: h.value}
	if h.typ == typService {
		a.EndHandle = h.endn
	}
	if h.typ == typClientCharacteristicConfig {
		a.Value = []byte{byte(h.ccc), byte(h.ccc >> 8)}
	}
	return a
}

// Access routes a peer access of attribute handle n. Characteristic values
// go to the owning service's dispatch; declarations and descriptors are
// served from their static values; client configuration writes are stored.
func (t *AttributeTable) Access(conn, n uint16, op Op, data []byte) ([]byte, byte, error) {
	i := t.r.idx(int(n))
	if i < 0 {
		return nil, StatusAttributeNotFound, ErrAttributeNotFound
	}
	h := &t.r.hh[i]
	switch h.typ {
	case typCharacteristicValue:
		return h.svc.Access(conn, n, op, data)
	case typClientCharacteristicConfig:
		if op == OpRead {
			return []byte{byte(h.ccc), byte(h.ccc >> 8)}, StatusSuccess, nil
		}
		if len(data) != 2 {
			return nil, StatusUnexpectedError, fmt.Errorf("ccc write of %d bytes", len(data))
		}
		h.ccc = le.Uint16(data)
		t.log.WithFields(logrus.Fields{
			"conn":     conn,
			"handle":   n,
			"notify":   h.ccc&gattCCCNotifyFlag != 0,
			"indicate": h.ccc&gattCCCIndicateFlag != 0,
		}).Debug("client configuration changed")
		return nil, StatusSuccess, nil
	default:
		if op != OpRead {
			return nil, StatusWriteNotPermitted, ErrNotPermitted
		}
		return h.value, StatusSuccess, nil
	}
}

// Subscribed reports whether a peer enabled notifications or indications
// for the characteristic with value handle valuen.
func (t *AttributeTable) Subscribed(valuen uint16) bool {
	h, ok := t.r.At(valuen + 1)
	return ok && h.typ == typClientCharacteristicConfig && h.ccc != 0
}

// A handleRange is a contiguous range of handles.
type handleRange struct {
	hh   []handle
	base uint16 // handle number for first handle in hh
}

const (
	tooSmall = -1
	tooLarge = -2
)

// idx returns the index into hh corresponding to handle n.
// If n is too small, idx returns tooSmall (-1).
// If n is too large, idx returns tooLarge (-2).
func (r *handleRange) idx(n int) int {
	if n < int(r.base) {
		return tooSmall
	}
	if int(n) >= int(r.base)+len(r.hh) {
		return tooLarge
	}
	return n - int(r.base)
}

// At returns handle n.
func (r *handleRange) At(n uint16) (h handle, ok bool) {
	i := r.idx(int(n))
	if i < 0 {
		return handle{}, false
	}
	return r.hh[i], true
}

// Subrange returns handles in range [start, end]; it may
// return an empty slice. Subrange does not panic for
// out-of-range start or end.
func (r *handleRange) Subrange(start, end uint16) []handle {
	startidx := r.idx(int(start))
	switch startidx {
	case tooSmall:
		startidx = 0
	case tooLarge:
		return []handle{}
	}

	endidx := r.idx(int(end) + 1) // [start, end] includes its upper bound!
	switch endidx {
	case tooSmall:
		return []handle{}
	case tooLarge:
		endidx = len(r.hh)
	}
	if endidx < startidx {
		return []handle{}
	}
	return r.hh[startidx:endidx]
}
