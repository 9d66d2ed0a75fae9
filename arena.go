package ble

import (
	"encoding/binary"
	"math/bits"
)

// wordSize is the native pointer size. Every arena allocation starts on
// a multiple of it.
const wordSize = bits.UintSize / 8

// maxArenaSize bounds arena buffers; all offsets are 16 bits wide.
const maxArenaSize = 0xFFFF

var le = binary.LittleEndian

func alignUp(n int) int {
	return (n + wordSize - 1) &^ (wordSize - 1)
}

// Header layout. The header is the first region of every arena and is the
// service descriptor itself.
const (
	hdrKind     = 0  // uint8: svcPrimary or svcSecondary
	hdrMax      = 1  // uint8: declared maximum characteristic count
	hdrCount    = 2  // uint8: characteristics added so far
	hdrFlags    = 3  // uint8: hdrRegistered
	hdrUUID     = 4  // uint16: offset of the service uuid blob
	hdrChars    = 6  // uint16: offset of the characteristic array
	hdrBindings = 8  // uint16: offset of the handler binding array
	hdrUsed     = 10 // uint16: bytes handed out from the free region
	hdrCap      = 12 // uint16: size of the free region
	hdrLen      = 14
)

const headerSize = (hdrLen + wordSize - 1) &^ (wordSize - 1)

const (
	svcPrimary   = 1
	svcSecondary = 2

	hdrRegistered = 1 << 0
)

// arena is a bump allocator laid over a caller-owned buffer. Its cursor and
// capacity live in the buffer header, so the arena and the service it holds
// are the same bytes.
type arena struct {
	mem []byte
}

// init zeroes the buffer and positions the cursor past the header.
func (a *arena) init(mem []byte) {
	for i := range mem {
		mem[i] = 0
	}
	a.mem = mem
	a.put16(hdrCap, uint16(len(mem)-headerSize))
}

func (a *arena) get8(off int) uint8      { return a.mem[off] }
func (a *arena) put8(off int, v uint8)   { a.mem[off] = v }
func (a *arena) get16(off int) uint16    { return le.Uint16(a.mem[off:]) }
func (a *arena) put16(off int, v uint16) { le.PutUint16(a.mem[off:], v) }

func (a *arena) used() int { return int(a.get16(hdrUsed)) }
func (a *arena) free() int { return int(a.get16(hdrCap)) - a.used() }

// next returns the offset the next allocation would start at.
func (a *arena) next() int { return headerSize + a.used() }

// alloc carves size bytes, rounded up to the word size, and returns the
// offset of the allocation. The cursor only ever moves forward.
func (a *arena) alloc(size int) (uint16, error) {
	size = alignUp(size)
	if size > a.free() {
		return 0, ErrArenaExhausted
	}
	off := a.next()
	a.put16(hdrUsed, uint16(a.used()+size))
	return uint16(off), nil
}

// bytes returns the n bytes starting at off.
func (a *arena) bytes(off uint16, n int) []byte {
	return a.mem[int(off) : int(off)+n : int(off)+n]
}

// carveBytes allocates room for b and copies it in.
func (a *arena) carveBytes(b []byte) (uint16, error) {
	off, err := a.alloc(len(b))
	if err != nil {
		return 0, err
	}
	copy(a.mem[off:], b)
	return off, nil
}

// A record is a fixed-size value stored in an arena.
type record[T any] interface {
	*T
	size() int
	decode(b []byte)
	encode(b []byte)
}

// A span is a typed array of n records of type T inside an arena.
type span[T any] struct {
	off uint16
	n   uint16
}

func recordSize[T any, P record[T]]() int {
	return P(new(T)).size()
}

// carve allocates an array of n records of type T. The array is zero,
// since the whole buffer is zeroed when the arena is initialized.
func carve[T any, P record[T]](a *arena, n int) (span[T], error) {
	off, err := a.alloc(n * recordSize[T, P]())
	if err != nil {
		return span[T]{}, err
	}
	return span[T]{off: off, n: uint16(n)}, nil
}

// load decodes the i-th record of s.
func load[T any, P record[T]](a *arena, s span[T], i int) T {
	var v T
	sz := P(&v).size()
	P(&v).decode(a.mem[int(s.off)+i*sz:])
	return v
}

// store encodes v as the i-th record of s.
func store[T any, P record[T]](a *arena, s span[T], i int, v T) {
	sz := P(&v).size()
	P(&v).encode(a.mem[int(s.off)+i*sz:])
}

// uuidBlobSize is the arena footprint of a uuid of n bytes:
// one type byte followed by the value.
func uuidBlobSize(n int) int { return alignUp(n + 1) }

// carveUUID stores u as a length-tagged blob: [len][value...].
func (a *arena) carveUUID(u UUID) (uint16, error) {
	off, err := a.alloc(1 + u.Len())
	if err != nil {
		return 0, err
	}
	a.mem[off] = byte(u.Len())
	copy(a.mem[off+1:], u.b)
	return off, nil
}

// uuidAt decodes the uuid blob at off.
func (a *arena) uuidAt(off uint16) UUID {
	n := int(a.mem[off])
	return UUIDFromBytes(a.mem[int(off)+1 : int(off)+1+n])
}
