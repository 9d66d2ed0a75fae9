package ble

// MaxDescriptors is the number of descriptors a characteristic may carry.
// The arena sizing formula reserves this many descriptor slots per
// characteristic.
const MaxDescriptors = 6

// A Descriptor is a characteristic descriptor with a static value.
type Descriptor struct {
	UUID  UUID
	Value []byte
}

// DescriptorDef is the registered view of a Descriptor.
type DescriptorDef struct {
	UUID   UUID
	Value  []byte // aliases the arena; do not modify
	Handle uint16
}

type dscRecord struct {
	uuid   uint16
	value  uint16
	vlen   uint16
	handle uint16
}

const dscRecordSize = 8

func (r *dscRecord) size() int { return dscRecordSize }

func (r *dscRecord) decode(b []byte) {
	r.uuid = le.Uint16(b[0:])
	r.value = le.Uint16(b[2:])
	r.vlen = le.Uint16(b[4:])
	r.handle = le.Uint16(b[6:])
}

func (r *dscRecord) encode(b []byte) {
	le.PutUint16(b[0:], r.uuid)
	le.PutUint16(b[2:], r.value)
	le.PutUint16(b[4:], r.vlen)
	le.PutUint16(b[6:], r.handle)
}

// footprint returns the arena bytes needed to store descriptors dd.
func footprint(dd []Descriptor) int {
	if len(dd) == 0 {
		return 0
	}
	n := alignUp(len(dd) * dscRecordSize)
	for _, d := range dd {
		n += uuidBlobSize(d.UUID.Len()) + alignUp(len(d.Value))
	}
	return n
}
