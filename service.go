package ble

import "fmt"

// A Service is a GATT service laid out inside a single caller-supplied
// buffer. The service header, its UUID, the characteristic table and the
// handler binding table are all carved from that buffer; the buffer must
// outlive the service and must not be reused while the service is
// registered.
//
// A Service is not safe for concurrent use. Configure it from one
// goroutine, then register it.
type Service struct {
	a        arena
	bindings []binding
}

// MinArenaSize returns the size a service arena must exceed for nrMax
// characteristics: the header with room for a 128-bit service UUID,
// nrMax+1 characteristic slots (one is the terminator), MaxDescriptors
// descriptor slots per characteristic and one handler binding per
// characteristic. Each region is counted at its aligned size, so any
// larger buffer holds the service whatever its UUID.
func MinArenaSize(nrMax int) int {
	return headerSize + uuidBlobSize(16) +
		alignUp((nrMax+1)*chrRecordSize) +
		alignUp(nrMax*dscRecordSize*MaxDescriptors) +
		alignUp(nrMax*recordSize[bindingRecord]())
}

// ArenaSize returns a buffer size that holds a service with any UUID and
// nrMax descriptor-less characteristics of any UUID. Descriptors draw on
// the remaining allowance.
func ArenaSize(nrMax int) int {
	return MinArenaSize(nrMax) + nrMax*uuidBlobSize(16) + 3*wordSize
}

// CreateService lays out a service with room for nrMax characteristics
// in mem. The whole of mem is zeroed. Errors other than ErrArenaExhausted
// wrap ErrPrecondition.
func CreateService(mem []byte, u UUID, primary bool, nrMax int) (*Service, error) {
	switch {
	case mem == nil:
		return nil, ErrNilBuffer
	case nrMax < 0 || nrMax > 0xFF:
		return nil, fmt.Errorf("%w: max %d", ErrTooManyCharacteristics, nrMax)
	case len(mem) > maxArenaSize:
		return nil, ErrArenaTooLarge
	case len(mem) <= MinArenaSize(nrMax):
		return nil, fmt.Errorf("%w: %d bytes, need more than %d", ErrArenaTooSmall, len(mem), MinArenaSize(nrMax))
	}
	if err := lenErr(u.Len()); err != nil {
		return nil, err
	}

	s := &Service{bindings: make([]binding, nrMax)}
	s.a.init(mem)

	uuidOff, err := s.a.carveUUID(u)
	if err != nil {
		return nil, err
	}
	chrs, err := carve[chrRecord](&s.a, nrMax+1)
	if err != nil {
		return nil, err
	}
	bindings, err := carve[bindingRecord](&s.a, nrMax)
	if err != nil {
		return nil, err
	}

	kind := uint8(svcSecondary)
	if primary {
		kind = svcPrimary
	}
	s.a.put8(hdrKind, kind)
	s.a.put8(hdrMax, uint8(nrMax))
	s.a.put16(hdrUUID, uuidOff)
	s.a.put16(hdrChars, chrs.off)
	s.a.put16(hdrBindings, bindings.off)
	return s, nil
}

// MustCreateService is like CreateService but panics on error.
func MustCreateService(mem []byte, u UUID, primary bool, nrMax int) *Service {
	s, err := CreateService(mem, u, primary, nrMax)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Service) chrs() span[chrRecord] {
	return span[chrRecord]{off: s.a.get16(hdrChars), n: uint16(s.Cap()) + 1}
}

func (s *Service) bindingSlots() span[bindingRecord] {
	return span[bindingRecord]{off: s.a.get16(hdrBindings), n: uint16(s.Cap())}
}

// AddCharacteristic adds a characteristic to the service. It fails with
// ErrTooManyCharacteristics once the declared maximum has been reached and
// with ErrArenaExhausted if the arena cannot hold the characteristic's
// UUID and descriptors; in both cases the service is left unchanged.
// AddCharacteristic must not be called after the service is registered.
func (s *Service) AddCharacteristic(u UUID, c Characteristic) error {
	i := s.Len()
	switch {
	case s.Registered():
		return ErrServiceRegistered
	case i >= s.Cap():
		return fmt.Errorf("%w: max %d", ErrTooManyCharacteristics, s.Cap())
	case len(c.Descriptors) > MaxDescriptors:
		return fmt.Errorf("%w: %d, max %d", ErrTooManyDescriptors, len(c.Descriptors), MaxDescriptors)
	}
	if err := lenErr(u.Len()); err != nil {
		return err
	}
	for _, d := range c.Descriptors {
		if err := lenErr(d.UUID.Len()); err != nil {
			return fmt.Errorf("descriptor: %w", err)
		}
	}
	if need := uuidBlobSize(u.Len()) + footprint(c.Descriptors); need > s.a.free() {
		return fmt.Errorf("%w: characteristic %s needs %d bytes, %d free", ErrArenaExhausted, u, need, s.a.free())
	}

	// Space was checked above; none of the allocations below can fail.
	r := chrRecord{
		props:  c.Flags.properties(),
		secure: uint8((c.Flags & securityFlags) >> 4),
	}
	r.uuid, _ = s.a.carveUUID(u)
	if n := len(c.Descriptors); n > 0 {
		descs, _ := carve[dscRecord](&s.a, n)
		for j, d := range c.Descriptors {
			var dr dscRecord
			dr.uuid, _ = s.a.carveUUID(d.UUID)
			if len(d.Value) > 0 {
				dr.value, _ = s.a.carveBytes(d.Value)
				dr.vlen = uint16(len(d.Value))
			}
			store(&s.a, descs, j, dr)
		}
		r.descs = descs.off
		r.ndesc = uint8(n)
	}
	store(&s.a, s.chrs(), i, r)

	s.bindings[i] = binding{h: c.Handler, ctx: c.Context}
	store(&s.a, s.bindingSlots(), i, bindingRecord{bound: c.Handler != nil})
	s.a.put8(hdrCount, uint8(i+1))
	return nil
}

// UUID returns the service's UUID.
func (s *Service) UUID() UUID {
	return s.a.uuidAt(s.a.get16(hdrUUID))
}

// Primary reports whether s is a primary service.
func (s *Service) Primary() bool { return s.a.get8(hdrKind) == svcPrimary }

// Len returns the number of characteristics added so far.
func (s *Service) Len() int { return int(s.a.get8(hdrCount)) }

// Cap returns the maximum number of characteristics declared at creation.
func (s *Service) Cap() int { return int(s.a.get8(hdrMax)) }

// Used returns the number of arena bytes in use, header included.
func (s *Service) Used() int { return headerSize + s.a.used() }

// Free returns the number of arena bytes still available.
func (s *Service) Free() int { return s.a.free() }

// Registered reports whether s has been registered.
func (s *Service) Registered() bool { return s.a.get8(hdrFlags)&hdrRegistered != 0 }

// Characteristic returns a view of the i-th characteristic.
func (s *Service) Characteristic(i int) CharacteristicDef {
	if i < 0 || i >= s.Len() {
		panic(fmt.Sprintf("characteristic index %d out of range [0, %d)", i, s.Len()))
	}
	r := load(&s.a, s.chrs(), i)
	c := CharacteristicDef{
		Service:     s,
		Index:       i,
		UUID:        s.a.uuidAt(r.uuid),
		Flags:       flagsFrom(r.props, r.secure),
		Properties:  r.props,
		DefHandle:   r.defn,
		ValueHandle: r.valuen,
		CCCHandle:   r.cccn,
	}
	descs := span[dscRecord]{off: r.descs, n: uint16(r.ndesc)}
	for j := 0; j < int(r.ndesc); j++ {
		dr := load(&s.a, descs, j)
		d := DescriptorDef{UUID: s.a.uuidAt(dr.uuid), Handle: dr.handle}
		if dr.vlen > 0 {
			d.Value = s.a.bytes(dr.value, int(dr.vlen))
		}
		c.Descriptors = append(c.Descriptors, d)
	}
	return c
}

// Characteristics returns views of all characteristics, in order.
func (s *Service) Characteristics() []CharacteristicDef {
	cc := make([]CharacteristicDef, s.Len())
	for i := range cc {
		cc[i] = s.Characteristic(i)
	}
	return cc
}

// setHandles records the attribute handles assigned to characteristic i
// and its descriptors at registration.
func (s *Service) setHandles(i int, defn, valuen, cccn uint16, descn []uint16) {
	chrs := s.chrs()
	r := load(&s.a, chrs, i)
	r.defn, r.valuen, r.cccn = defn, valuen, cccn
	store(&s.a, chrs, i, r)

	descs := span[dscRecord]{off: r.descs, n: uint16(r.ndesc)}
	for j := 0; j < int(r.ndesc) && j < len(descn); j++ {
		dr := load(&s.a, descs, j)
		dr.handle = descn[j]
		store(&s.a, descs, j, dr)
	}
}

// Access is the dispatch entry point shared by every characteristic of s.
// It finds the characteristic whose value handle is handle and calls its
// Handler. It returns the value to send back for reads and the ATT status.
func (s *Service) Access(conn, handle uint16, op Op, data []byte) ([]byte, byte, error) {
	chrs := s.chrs()
	for i := 0; i < s.Len(); i++ {
		r := load(&s.a, chrs, i)
		if r.valuen == 0 || r.valuen != handle {
			continue
		}
		switch {
		case op == OpRead && r.props&charRead == 0:
			return nil, StatusReadNotPermitted, ErrNotPermitted
		case op == OpWrite && r.props&(charWrite|charWriteNR) == 0:
			return nil, StatusWriteNotPermitted, ErrNotPermitted
		}
		b := s.bindings[i]
		if b.h == nil {
			return nil, StatusSuccess, nil
		}
		req := &AccessRequest{
			Conn:    conn,
			Handle:  handle,
			Op:      op,
			Data:    data,
			Service: s,
			Index:   i,
			Context: b.ctx,
		}
		resp := newResponseWriter(DefaultReadResponseLimit)
		b.h.ServeAccess(resp, req)
		if op != OpRead {
			return nil, resp.status, nil
		}
		return resp.bytes(), resp.status, nil
	}
	return nil, StatusAttributeNotFound, ErrAttributeNotFound
}

// A Registrar accepts finished services into a GATT database.
type Registrar interface {
	// CountConfig checks that the database can hold s.
	CountConfig(s *Service) error
	// AddService adds s to the database, assigning attribute handles.
	AddService(s *Service) error
}

// Register submits s to r. A failure is reported as a *RegistrationError
// naming the stage that failed.
func (s *Service) Register(r Registrar) error {
	if s.Registered() {
		return ErrServiceRegistered
	}
	if err := r.CountConfig(s); err != nil {
		return &RegistrationError{Stage: "count", Err: err}
	}
	if err := r.AddService(s); err != nil {
		return &RegistrationError{Stage: "add", Err: err}
	}
	s.a.put8(hdrFlags, s.a.get8(hdrFlags)|hdrRegistered)
	return nil
}

// A Region is one allocation in a service arena.
type Region struct {
	Name   string
	Offset int
	Size   int // aligned size
}

// Layout returns the regions of the arena in address order, starting with
// the header. Every Offset is a multiple of the platform word size.
func (s *Service) Layout() []Region {
	rr := []Region{{Name: "header", Offset: 0, Size: headerSize}}
	uuidRegion := func(name string, off uint16) {
		rr = append(rr, Region{Name: name, Offset: int(off), Size: uuidBlobSize(int(s.a.mem[off]))})
	}
	uuidRegion("service uuid", s.a.get16(hdrUUID))
	chrs, slots := s.chrs(), s.bindingSlots()
	rr = append(rr,
		Region{Name: "characteristics", Offset: int(chrs.off), Size: alignUp(int(chrs.n) * chrRecordSize)},
		Region{Name: "bindings", Offset: int(slots.off), Size: alignUp(int(slots.n) * recordSize[bindingRecord]())},
	)
	for i := 0; i < s.Len(); i++ {
		r := load(&s.a, chrs, i)
		uuidRegion(fmt.Sprintf("chr[%d] uuid", i), r.uuid)
		if r.ndesc == 0 {
			continue
		}
		rr = append(rr, Region{Name: fmt.Sprintf("chr[%d] descriptors", i), Offset: int(r.descs), Size: alignUp(int(r.ndesc) * dscRecordSize)})
		descs := span[dscRecord]{off: r.descs, n: uint16(r.ndesc)}
		for j := 0; j < int(r.ndesc); j++ {
			dr := load(&s.a, descs, j)
			uuidRegion(fmt.Sprintf("chr[%d] dsc[%d] uuid", i, j), dr.uuid)
			if dr.vlen > 0 {
				rr = append(rr, Region{Name: fmt.Sprintf("chr[%d] dsc[%d] value", i, j), Offset: int(dr.value), Size: alignUp(int(dr.vlen))})
			}
		}
	}
	return rr
}

// WordSize returns the alignment of arena allocations.
func WordSize() int { return wordSize }
