// Package profile reads GATT service and advertising profiles from YAML,
// so a peripheral layout can be sized, inspected and simulated without
// writing code.
//
// A profile looks like:
//
//     name: thermo
//     service:
//       uuid: "181A"
//       characteristics:
//         - uuid: "2A6E"
//           flags: [read, notify]
//           value: "0a09"
//           encoding: hex
//     advertising:
//       interval_min: 100ms
//       interval_max: 200ms
//       tx_power: "-4"
//
// Fields left out take the defaults in the struct tags.
package profile

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/XC-/ble"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Profile is a service and how to advertise it.
type Profile struct {
	Name        string      `yaml:"name" default:"gopher"`
	Service     Service     `yaml:"service"`
	Advertising Advertising `yaml:"advertising"`

	svc   ble.UUID
	chars []characteristic
	adv   advertising
}

// A Service is the GATT service of a profile.
type Service struct {
	UUID string `yaml:"uuid"`
	Kind string `yaml:"kind" default:"primary"` // primary or secondary

	// MaxCharacteristics is the arena capacity; zero means exactly the
	// characteristics listed.
	MaxCharacteristics int              `yaml:"max_characteristics"`
	Characteristics    []Characteristic `yaml:"characteristics"`
}

// A Characteristic is one characteristic of the service. Flags take the
// names ble.ParseFlag accepts.
type Characteristic struct {
	UUID  string   `yaml:"uuid"`
	Flags []string `yaml:"flags"`

	// Value is served on read and replaced on write.
	Value    string `yaml:"value"`
	Encoding string `yaml:"encoding" default:"text"` // text or hex

	Descriptors []Descriptor `yaml:"descriptors"`
}

// A Descriptor is a static characteristic descriptor.
type Descriptor struct {
	UUID     string `yaml:"uuid"`
	Value    string `yaml:"value"`
	Encoding string `yaml:"encoding" default:"text"`
}

// Advertising holds the advertising parameters and payload fields.
type Advertising struct {
	Mode        string   `yaml:"mode" default:"ind"` // ind, direct-ind, nonconn-ind or scan-ind
	IntervalMin string   `yaml:"interval_min" default:"152.5ms"`
	IntervalMax string   `yaml:"interval_max"` // interval_min if empty
	Duration    string   `yaml:"duration" default:"forever"`
	Flags       []string `yaml:"flags"` // general and le-only if empty

	// LocalName defaults to the profile name.
	LocalName string `yaml:"local_name"`

	// Services lists the UUIDs to advertise; the profile's service if empty.
	Services []string `yaml:"services"`

	TxPower          string `yaml:"tx_power"`
	Appearance       uint16 `yaml:"appearance"`
	ManufacturerID   uint16 `yaml:"manufacturer_id"`
	ManufacturerData string `yaml:"manufacturer_data"` // hex
}

type characteristic struct {
	uuid  ble.UUID
	flags ble.Flags
	value []byte
	descs []ble.Descriptor
}

type advertising struct {
	mode     ble.AdvMode
	min, max time.Duration
	duration time.Duration
	flags    byte
	name     string
	services []ble.UUID
	txPower  *int8
	mfr      []byte
}

var modes = map[string]ble.AdvMode{
	"ind":         ble.AdvInd,
	"direct-ind":  ble.AdvDirectInd,
	"nonconn-ind": ble.AdvNonconnInd,
	"scan-ind":    ble.AdvScanInd,
}

var adFlags = map[string]byte{
	"limited":           ble.FlagLimitedDiscoverable,
	"general":           ble.FlagGeneralDiscoverable,
	"le-only":           ble.FlagLEOnly,
	"br-edr-controller": ble.FlagBothController,
	"br-edr-host":       ble.FlagBothHost,
	"none":              0,
}

// Load reads and validates the profile at path.
func Load(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile.
func Parse(b []byte) (*Profile, error) {
	return Decode(bytes.NewReader(b))
}

// Decode reads a profile from r. Unknown keys are an error.
func Decode(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	p := &Profile{}
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	p.setDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) setDefaults() {
	defaults.SetDefaults(p)
	defaults.SetDefaults(&p.Service)
	defaults.SetDefaults(&p.Advertising)
	for i := range p.Service.Characteristics {
		c := &p.Service.Characteristics[i]
		defaults.SetDefaults(c)
		for j := range c.Descriptors {
			defaults.SetDefaults(&c.Descriptors[j])
		}
	}
}

// Validate checks every field and resolves the profile for Build and
// Payloads.
func (p *Profile) Validate() error {
	var err error
	if p.svc, err = ble.ParseUUID(p.Service.UUID); err != nil {
		return fmt.Errorf("service.uuid: %w", err)
	}
	switch p.Service.Kind {
	case "primary", "secondary":
	default:
		return fmt.Errorf("service.kind: %q is neither primary nor secondary", p.Service.Kind)
	}
	if m := p.Service.MaxCharacteristics; m != 0 && m < len(p.Service.Characteristics) {
		return fmt.Errorf("service.max_characteristics: %d, but %d listed", m, len(p.Service.Characteristics))
	}
	if p.Max() > 0xFF {
		return fmt.Errorf("service.max_characteristics: %w", ble.ErrTooManyCharacteristics)
	}

	p.chars = p.chars[:0]
	for i, c := range p.Service.Characteristics {
		rc, err := c.resolve()
		if err != nil {
			return fmt.Errorf("service.characteristics[%d].%w", i, err)
		}
		p.chars = append(p.chars, rc)
	}

	if p.adv, err = p.Advertising.resolve(p); err != nil {
		return fmt.Errorf("advertising.%w", err)
	}
	return nil
}

func (c Characteristic) resolve() (characteristic, error) {
	var rc characteristic
	var err error
	if rc.uuid, err = ble.ParseUUID(c.UUID); err != nil {
		return rc, fmt.Errorf("uuid: %w", err)
	}
	for _, name := range c.Flags {
		f, err := ble.ParseFlag(name)
		if err != nil {
			return rc, fmt.Errorf("flags: %w", err)
		}
		rc.flags |= f
	}
	if rc.value, err = decodeValue(c.Value, c.Encoding); err != nil {
		return rc, fmt.Errorf("value: %w", err)
	}
	if len(c.Descriptors) > ble.MaxDescriptors {
		return rc, fmt.Errorf("descriptors: %w", ble.ErrTooManyDescriptors)
	}
	for j, d := range c.Descriptors {
		u, err := ble.ParseUUID(d.UUID)
		if err != nil {
			return rc, fmt.Errorf("descriptors[%d].uuid: %w", j, err)
		}
		v, err := decodeValue(d.Value, d.Encoding)
		if err != nil {
			return rc, fmt.Errorf("descriptors[%d].value: %w", j, err)
		}
		rc.descs = append(rc.descs, ble.Descriptor{UUID: u, Value: v})
	}
	return rc, nil
}

func decodeValue(s, enc string) ([]byte, error) {
	switch enc {
	case "text":
		return []byte(s), nil
	case "hex":
		return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	}
	return nil, fmt.Errorf("unknown encoding %q", enc)
}

func (a Advertising) resolve(p *Profile) (advertising, error) {
	var ra advertising
	var ok bool
	if ra.mode, ok = modes[a.Mode]; !ok {
		return ra, fmt.Errorf("mode: unknown mode %q", a.Mode)
	}
	var err error
	if ra.min, err = time.ParseDuration(a.IntervalMin); err != nil {
		return ra, fmt.Errorf("interval_min: %w", err)
	}
	max := a.IntervalMax
	if max == "" {
		max = a.IntervalMin
	}
	if ra.max, err = time.ParseDuration(max); err != nil {
		return ra, fmt.Errorf("interval_max: %w", err)
	}
	if ra.min < 20*time.Millisecond || ra.max > 10240*time.Millisecond || ra.min > ra.max {
		return ra, fmt.Errorf("interval: [%v, %v]: %w", ra.min, ra.max, ble.ErrInvalidInterval)
	}
	ra.duration = ble.Forever
	if a.Duration != "forever" {
		if ra.duration, err = time.ParseDuration(a.Duration); err != nil {
			return ra, fmt.Errorf("duration: %w", err)
		}
		if ra.duration <= 0 {
			return ra, fmt.Errorf("duration: %v is not positive", ra.duration)
		}
	}

	ra.flags = ble.FlagGeneralDiscoverable | ble.FlagLEOnly
	if len(a.Flags) > 0 {
		ra.flags = 0
		for _, name := range a.Flags {
			f, ok := adFlags[name]
			if !ok {
				return ra, fmt.Errorf("flags: unknown flag %q", name)
			}
			ra.flags |= f
		}
	}

	ra.name = a.LocalName
	if ra.name == "" {
		ra.name = p.Name
	}
	ra.services = []ble.UUID{p.svc}
	if len(a.Services) > 0 {
		ra.services = nil
		for i, s := range a.Services {
			u, err := ble.ParseUUID(s)
			if err != nil {
				return ra, fmt.Errorf("services[%d]: %w", i, err)
			}
			ra.services = append(ra.services, u)
		}
	}
	if a.TxPower != "" {
		v, err := strconv.ParseInt(a.TxPower, 10, 8)
		if err != nil {
			return ra, fmt.Errorf("tx_power: %w", err)
		}
		dbm := int8(v)
		ra.txPower = &dbm
	}
	if a.ManufacturerData != "" {
		if ra.mfr, err = hex.DecodeString(a.ManufacturerData); err != nil {
			return ra, fmt.Errorf("manufacturer_data: %w", err)
		}
	}
	return ra, nil
}

// Max returns the characteristic capacity of the service.
func (p *Profile) Max() int {
	if p.Service.MaxCharacteristics != 0 {
		return p.Service.MaxCharacteristics
	}
	return len(p.Service.Characteristics)
}

// Mode returns the advertising mode.
func (p *Profile) Mode() ble.AdvMode { return p.adv.mode }

// Build lays out the service in mem. Each characteristic serves its
// value on read and stores what is written to it.
func (p *Profile) Build(mem []byte) (*ble.Service, error) {
	s, err := ble.CreateService(mem, p.svc, p.Service.Kind == "primary", p.Max())
	if err != nil {
		return nil, err
	}
	for i, c := range p.chars {
		err := s.AddCharacteristic(c.uuid, ble.Characteristic{
			Flags:       c.flags,
			Handler:     &store{v: append([]byte(nil), c.value...)},
			Descriptors: c.descs,
		})
		if err != nil {
			return nil, fmt.Errorf("characteristic %d (%s): %w", i, c.uuid, err)
		}
	}
	return s, nil
}

// ArenaSize returns the smallest buffer Build succeeds with.
func (p *Profile) ArenaSize() (int, error) {
	s, err := p.Build(make([]byte, 0xFFFF))
	if err != nil {
		return 0, err
	}
	n := s.Used()
	if floor := ble.MinArenaSize(p.Max()) + 1; n < floor {
		n = floor
	}
	return n, nil
}

// Payloads builds the advertising and scan response payloads. The name
// goes in the advertising payload if it fits whole. Other fields spill
// into the scan response when the advertising payload is full.
func (p *Profile) Payloads() (adv, rsp ble.AdvPayload, err error) {
	a := p.adv
	if a.flags != 0 {
		if err := adv.AppendFlags(a.flags); err != nil {
			return adv, rsp, err
		}
	}
	place := func(what string, f func(*ble.AdvPayload) error) error {
		if f(&adv) == nil {
			return nil
		}
		if err := f(&rsp); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		return nil
	}
	for _, u := range a.services {
		u := u
		err := place("service "+u.String(), func(pl *ble.AdvPayload) error {
			if !pl.AppendUUIDFit(u) {
				return ble.ErrEIRPacketTooLong
			}
			return nil
		})
		if err != nil {
			return adv, rsp, err
		}
	}
	if a.name != "" {
		pl := &rsp
		if adv.Free() >= len(a.name)+2 {
			pl = &adv
		}
		if err := pl.AppendName(a.name); err != nil {
			return adv, rsp, fmt.Errorf("local name: %w", err)
		}
	}
	if a.txPower != nil {
		dbm := *a.txPower
		if err := place("tx power", func(pl *ble.AdvPayload) error { return pl.AppendTxPower(dbm) }); err != nil {
			return adv, rsp, err
		}
	}
	if p.Advertising.Appearance != 0 {
		app := p.Advertising.Appearance
		if err := place("appearance", func(pl *ble.AdvPayload) error { return pl.AppendAppearance(app) }); err != nil {
			return adv, rsp, err
		}
	}
	if a.mfr != nil || p.Advertising.ManufacturerID != 0 {
		cid := p.Advertising.ManufacturerID
		if err := place("manufacturer data", func(pl *ble.AdvPayload) error { return pl.AppendManufacturerData(cid, a.mfr) }); err != nil {
			return adv, rsp, err
		}
	}
	return adv, rsp, nil
}

// Options returns the device options the profile implies.
func (p *Profile) Options() []ble.Option {
	return []ble.Option{ble.WithName(p.Name), ble.WithAdvMode(p.adv.mode)}
}

// Configure applies the advertising parameters and payloads to a.
func (p *Profile) Configure(a *ble.Advertiser) error {
	adv, rsp, err := p.Payloads()
	if err != nil {
		return err
	}
	if err := a.SetInterval(p.adv.min, p.adv.max); err != nil {
		return err
	}
	if err := a.SetDuration(p.adv.duration); err != nil {
		return err
	}
	if err := a.SetPayload(&adv); err != nil {
		return err
	}
	return a.SetScanResponse(&rsp)
}

// store is the Handler of a profile characteristic.
type store struct {
	v  []byte
	mu sync.Mutex
}

func (s *store) ServeAccess(resp ble.ResponseWriter, req *ble.AccessRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch req.Op {
	case ble.OpRead:
		if _, err := resp.Write(s.v); err != nil {
			resp.SetStatus(ble.StatusUnexpectedError)
		}
	case ble.OpWrite:
		s.v = append(s.v[:0], req.Data...)
	}
}
