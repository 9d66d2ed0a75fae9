package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxEIRPacketLength is the maximum allowed advertising
// and scan response payload length.
const MaxEIRPacketLength = 31

// advertising data field types
const (
	typeFlags             = 0x01 // Flags
	typeSomeUUID16        = 0x02 // Incomplete List of 16-bit Service Class UUIDs
	typeAllUUID16         = 0x03 // Complete List of 16-bit Service Class UUIDs
	typeSomeUUID32        = 0x04 // Incomplete List of 32-bit Service Class UUIDs
	typeAllUUID32         = 0x05 // Complete List of 32-bit Service Class UUIDs
	typeSomeUUID128       = 0x06 // Incomplete List of 128-bit Service Class UUIDs
	typeAllUUID128        = 0x07 // Complete List of 128-bit Service Class UUIDs
	typeShortName         = 0x08 // Shortened Local Name
	typeCompleteName      = 0x09 // Complete Local Name
	typeTxPower           = 0x0A // Tx Power Level
	typeClassOfDevice     = 0x0D // Class of Device
	typeSlaveConnInt      = 0x12 // Slave Connection Interval Range
	typeServiceSol16      = 0x14 // List of 16-bit Service Solicitation UUIDs
	typeServiceSol128     = 0x15 // List of 128-bit Service Solicitation UUIDs
	typeServiceData16     = 0x16 // Service Data - 16-bit UUID
	typeAppearance        = 0x19 // Appearance
	typeAdvInterval       = 0x1A // Advertising Interval
	typeServiceSol32      = 0x1F // List of 32-bit Service Solicitation UUIDs
	typeServiceData32     = 0x20 // Service Data - 32-bit UUID
	typeServiceData128    = 0x21 // Service Data - 128-bit UUID
	typeManufacturerData  = 0xFF // Manufacturer Specific Data
)

// Exported field types for use with AdvPayload.Append.
const (
	TypeFlags            = typeFlags
	TypeShortName        = typeShortName
	TypeCompleteName     = typeCompleteName
	TypeTxPower          = typeTxPower
	TypeAppearance       = typeAppearance
	TypeManufacturerData = typeManufacturerData
)

// flag bits
const (
	FlagLimitedDiscoverable = 1 << iota // LE Limited Discoverable Mode
	FlagGeneralDiscoverable             // LE General Discoverable Mode
	FlagLEOnly                          // BR/EDR Not Supported. Bit 37 of LMP Feature Mask Definitions (Page 0)
	FlagBothController                  // Simultaneous LE and BR/EDR to Same Device Capable (Controller).
	FlagBothHost                        // Simultaneous LE and BR/EDR to Same Device Capable (Host).
)

// An AdvPayload is an advertising or scan response payload: a sequence of
// AD structures, [length][type][value...], in a fixed 31 byte buffer.
// The zero value is an empty payload.
type AdvPayload struct {
	b [MaxEIRPacketLength]byte
	n uint8
}

// Clear empties p.
func (p *AdvPayload) Clear() {
	*p = AdvPayload{}
}

// Append appends a field of type typ. If the field does not fit, Append
// returns ErrEIRPacketTooLong and leaves p unchanged.
func (p *AdvPayload) Append(typ byte, data []byte) error {
	if int(p.n)+len(data)+2 > len(p.b) {
		return fmt.Errorf("%w: field 0x%02X of %d bytes, %d free", ErrEIRPacketTooLong, typ, len(data), p.Free())
	}
	// A field consists of len, typ, data.
	// Len is 1 byte for typ plus len(data).
	f := p.b[p.n:]
	f[0] = byte(len(data) + 1)
	f[1] = typ
	copy(f[2:], data)
	p.n += uint8(len(data) + 2)
	return nil
}

// Bytes returns the encoded fields. The slice aliases p.
func (p *AdvPayload) Bytes() []byte { return p.b[:p.n] }

// Array returns the whole buffer, zero-padded, as controllers expect it.
func (p *AdvPayload) Array() [MaxEIRPacketLength]byte { return p.b }

// Len returns the number of bytes used.
func (p *AdvPayload) Len() int { return int(p.n) }

// Free returns the number of bytes left.
func (p *AdvPayload) Free() int { return len(p.b) - int(p.n) }

// AppendFlags appends the flags field.
func (p *AdvPayload) AppendFlags(f byte) error {
	return p.Append(typeFlags, []byte{f})
}

// AppendName appends the device name. If the complete name does not fit,
// it is truncated and appended as a shortened local name.
func (p *AdvPayload) AppendName(name string) error {
	typ := byte(typeCompleteName)
	if max := p.Free() - 2; len(name) > max {
		if max < 1 {
			return fmt.Errorf("%w: no room for name", ErrEIRPacketTooLong)
		}
		name = name[:max]
		typ = typeShortName
	}
	return p.Append(typ, []byte(name))
}

// AppendManufacturerData appends manufacturer specific data for company cid.
func (p *AdvPayload) AppendManufacturerData(cid uint16, data []byte) error {
	if p.Free() < 2+2+len(data) {
		return ErrEIRPacketTooLong
	}
	d := make([]byte, 2, 2+len(data))
	binary.LittleEndian.PutUint16(d, cid)
	return p.Append(typeManufacturerData, append(d, data...))
}

// AppendTxPower appends the TX power level, in dBm.
func (p *AdvPayload) AppendTxPower(dbm int8) error {
	return p.Append(typeTxPower, []byte{byte(dbm)})
}

// AppendAppearance appends the GAP appearance value.
func (p *AdvPayload) AppendAppearance(a uint16) error {
	return p.Append(typeAppearance, []byte{byte(a), byte(a >> 8)})
}

// AppendUUIDFit appends a BLE advertised service UUID
// packet field if it fits in the packet, and reports
// whether the UUID fit.
func (p *AdvPayload) AppendUUIDFit(u UUID) bool {
	// Err on the side of safety and assume that there might be
	// other services available: Use typeSomeUUID instead
	// of typeAllUUID.
	var typ byte
	switch u.Len() {
	case 2:
		typ = typeSomeUUID16
	case 4:
		typ = typeSomeUUID32
	case 16:
		typ = typeSomeUUID128
	default:
		return false
	}
	return p.Append(typ, u.reverseBytes()) == nil
}

// NameScanResponse constructs a scan response payload with
// the given name, truncated as necessary.
func NameScanResponse(name string) AdvPayload {
	var p AdvPayload
	p.AppendName(name)
	return p
}

// ServiceAdvertisement constructs an advertising payload that
// advertises as many of the provided service uuids as possible.
// It returns the payload and the contained uuids.
func ServiceAdvertisement(uu []UUID) (AdvPayload, []UUID) {
	fit := make([]UUID, 0, len(uu))
	var p AdvPayload
	p.AppendFlags(FlagGeneralDiscoverable | FlagLEOnly)
	for _, u := range uu {
		if ok := p.AppendUUIDFit(u); ok {
			fit = append(fit, u)
		}
	}
	return p, fit
}

// A Field is one AD structure.
type Field struct {
	Type byte
	Data []byte
}

var errInvalidAdvData = errors.New("invalid advertise data")

// ParseFields splits b into AD structures. A zero length byte ends the
// significant part of the data, as in zero-padded controller buffers.
func ParseFields(b []byte) ([]Field, error) {
	var ff []Field
	for len(b) > 0 {
		l := int(b[0])
		if l == 0 {
			break
		}
		if len(b) < 1+l {
			return ff, errInvalidAdvData
		}
		ff = append(ff, Field{Type: b[1], Data: b[2 : 1+l]})
		b = b[1+l:]
	}
	return ff, nil
}

// Advertisement is the decoded content of advertising and scan response
// payloads.
type Advertisement struct {
	LocalName        string
	Flags            byte
	ManufacturerData []byte
	ServiceData      []byte
	Services         []UUID
	SolicitedService []UUID
	TxPowerLevel     int
	Appearance       uint16
	Connectable      bool
	Other            []Field // fields of types not decoded above
}

// Unmarshal decodes the AD structures in b into a, adding to what a
// already holds, so that an advertising payload and its scan response can
// be decoded into the same Advertisement.
func (a *Advertisement) Unmarshal(b []byte) error {
	ff, err := ParseFields(b)
	if err != nil {
		return err
	}
	for _, f := range ff {
		d := f.Data
		switch f.Type {
		case typeFlags:
			if len(d) < 1 {
				return errInvalidAdvData
			}
			a.Flags = d[0]
			a.Connectable = d[0]&(FlagLimitedDiscoverable|FlagGeneralDiscoverable) != 0
		case typeSomeUUID16, typeAllUUID16:
			a.Services = uuidList(a.Services, d, 2)
		case typeSomeUUID32, typeAllUUID32:
			a.Services = uuidList(a.Services, d, 4)
		case typeSomeUUID128, typeAllUUID128:
			a.Services = uuidList(a.Services, d, 16)
		case typeShortName, typeCompleteName:
			a.LocalName = string(d)
		case typeTxPower:
			if len(d) < 1 {
				return errInvalidAdvData
			}
			a.TxPowerLevel = int(int8(d[0]))
		case typeAppearance:
			if len(d) < 2 {
				return errInvalidAdvData
			}
			a.Appearance = binary.LittleEndian.Uint16(d)
		case typeServiceSol16:
			a.SolicitedService = uuidList(a.SolicitedService, d, 2)
		case typeServiceSol32:
			a.SolicitedService = uuidList(a.SolicitedService, d, 4)
		case typeServiceSol128:
			a.SolicitedService = uuidList(a.SolicitedService, d, 16)
		case typeServiceData16, typeServiceData32, typeServiceData128:
			a.ServiceData = append([]byte(nil), d...)
		case typeManufacturerData:
			a.ManufacturerData = append([]byte(nil), d...)
		default:
			a.Other = append(a.Other, Field{Type: f.Type, Data: append([]byte(nil), d...)})
		}
	}
	return nil
}

// uuidList appends the w-byte little-endian UUIDs in d to u.
func uuidList(u []UUID, d []byte, w int) []UUID {
	for len(d) >= w {
		u = append(u, UUID{reverse(d[:w])})
		d = d[w:]
	}
	return u
}

// FieldName returns a human readable name for an AD type.
func FieldName(typ byte) string {
	if s, ok := fieldNames[typ]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (0x%02X)", typ)
}

var fieldNames = map[byte]string{
	typeFlags:            "Flags",
	typeSomeUUID16:       "Incomplete List of 16-bit Service Class UUIDs",
	typeAllUUID16:        "Complete List of 16-bit Service Class UUIDs",
	typeSomeUUID32:       "Incomplete List of 32-bit Service Class UUIDs",
	typeAllUUID32:        "Complete List of 32-bit Service Class UUIDs",
	typeSomeUUID128:      "Incomplete List of 128-bit Service Class UUIDs",
	typeAllUUID128:       "Complete List of 128-bit Service Class UUIDs",
	typeShortName:        "Shortened Local Name",
	typeCompleteName:     "Complete Local Name",
	typeTxPower:          "Tx Power Level",
	typeClassOfDevice:    "Class of Device",
	typeSlaveConnInt:     "Slave Connection Interval Range",
	typeServiceSol16:     "List of 16-bit Service Solicitation UUIDs",
	typeServiceSol128:    "List of 128-bit Service Solicitation UUIDs",
	typeServiceData16:    "Service Data - 16-bit UUID",
	typeAppearance:       "Appearance",
	typeAdvInterval:      "Advertising Interval",
	typeServiceSol32:     "List of 32-bit Service Solicitation UUIDs",
	typeServiceData32:    "Service Data - 32-bit UUID",
	typeServiceData128:   "Service Data - 128-bit UUID",
	typeManufacturerData: "Manufacturer Specific Data",
}
