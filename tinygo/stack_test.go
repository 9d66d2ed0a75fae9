package tinygo

import (
	"errors"
	"testing"
	"time"

	"github.com/XC-/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

type fakeAdapter struct {
	enabled bool
	svcs    []*bluetooth.Service
	err     error
}

func (a *fakeAdapter) Enable() error {
	a.enabled = true
	return a.err
}

func (a *fakeAdapter) AddService(s *bluetooth.Service) error {
	a.svcs = append(a.svcs, s)
	return nil
}

func (a *fakeAdapter) SetConnectHandler(func(bluetooth.Device, bool)) {}

type fakeAdv struct {
	opts    bluetooth.AdvertisementOptions
	started int
	stopped int
}

func (a *fakeAdv) Configure(o bluetooth.AdvertisementOptions) error {
	a.opts = o
	return nil
}

func (a *fakeAdv) Start() error { a.started++; return nil }
func (a *fakeAdv) Stop() error  { a.stopped++; return nil }

type events struct {
	synced   bool
	complete chan error
}

func (e *events) Synced()                     { e.synced = true }
func (e *events) Reset(error)                 {}
func (e *events) Connected(uint16)            {}
func (e *events) Disconnected(uint16, error)  {}
func (e *events) AdvertisingComplete(r error) { e.complete <- r }
func (e *events) MTUChanged(uint16, uint16)   {}

func testService(t *testing.T) *ble.Service {
	s, err := ble.CreateService(make([]byte, ble.ArenaSize(2)), ble.UUID16(0x180F), true, 2)
	require.NoError(t, err)
	require.NoError(t, s.AddCharacteristic(ble.UUID16(0x2A19), ble.Characteristic{
		Flags: ble.FlagRead | ble.FlagNotify,
		Handler: ble.HandlerFunc(func(resp ble.ResponseWriter, req *ble.AccessRequest) {
			resp.Write([]byte{87})
		}),
	}))
	require.NoError(t, s.AddCharacteristic(ble.MustParseUUID("6E400002-B5A3-F393-E0A9-E50E24DCCA9E"), ble.Characteristic{
		Flags:   ble.FlagWrite,
		Handler: ble.HandlerFunc(func(resp ble.ResponseWriter, req *ble.AccessRequest) {}),
	}))
	return s
}

func TestServicesWaitForEnable(t *testing.T) {
	a, adv := &fakeAdapter{}, &fakeAdv{}
	s := newStack(a, adv, nil)

	require.NoError(t, s.AddService(testService(t)))
	assert.Empty(t, a.svcs)

	ev := &events{}
	require.NoError(t, s.Enable(ble.AddrPublic, ble.Addr{}, ev))
	assert.True(t, ev.synced)
	require.Len(t, a.svcs, 1)

	bs := a.svcs[0]
	assert.Equal(t, bluetooth.New16BitUUID(0x180F), bs.UUID)
	require.Len(t, bs.Characteristics, 2)

	bat := bs.Characteristics[0]
	assert.Equal(t, bluetooth.New16BitUUID(0x2A19), bat.UUID)
	assert.Equal(t, bluetooth.CharacteristicReadPermission|bluetooth.CharacteristicNotifyPermission, bat.Flags)
	assert.Equal(t, []byte{87}, bat.Value)
	assert.Nil(t, bat.WriteEvent)

	rx := bs.Characteristics[1]
	assert.Equal(t, bluetooth.CharacteristicWritePermission, rx.Flags)
	assert.NotNil(t, rx.WriteEvent)
}

func TestEnableError(t *testing.T) {
	s := newStack(&fakeAdapter{err: errors.New("no adapter")}, &fakeAdv{}, nil)
	err := s.Enable(ble.AddrPublic, ble.Addr{}, &events{})
	assert.Error(t, err)
	_, _, err = s.DeviceAddress()
	assert.ErrorIs(t, err, ble.ErrNotReady)
}

func TestWriteEventDispatch(t *testing.T) {
	a := &fakeAdapter{}
	s := newStack(a, &fakeAdv{}, nil)
	require.NoError(t, s.Enable(ble.AddrPublic, ble.Addr{}, &events{}))

	var got []byte
	var conn uint16
	svc, err := ble.CreateService(make([]byte, ble.ArenaSize(1)), ble.UUID16(0xFFE0), true, 1)
	require.NoError(t, err)
	require.NoError(t, svc.AddCharacteristic(ble.UUID16(0xFFE1), ble.Characteristic{
		Flags: ble.FlagWrite,
		Handler: ble.HandlerFunc(func(resp ble.ResponseWriter, req *ble.AccessRequest) {
			got, conn = req.Data, req.Conn
		}),
	}))
	require.NoError(t, s.AddService(svc))
	require.Len(t, a.svcs, 1)

	a.svcs[0].Characteristics[0].WriteEvent(bluetooth.Connection(3), 0, []byte("on"))
	assert.Equal(t, []byte("on"), got)
	assert.Equal(t, uint16(3), conn)
}

func TestAdvOptions(t *testing.T) {
	adv, _ := ble.ServiceAdvertisement([]ble.UUID{ble.UUID16(0x180F)})
	require.NoError(t, adv.AppendManufacturerData(0x0059, []byte{1, 2}))
	rsp := ble.NameScanResponse("sensor")

	p := ble.AdvParams{IntervalMin: 0x00A0, IntervalMax: 0x00A0}
	opts, err := advOptions(p, adv.Bytes(), rsp.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "sensor", opts.LocalName)
	assert.Equal(t, []bluetooth.UUID{bluetooth.New16BitUUID(0x180F)}, opts.ServiceUUIDs)
	require.Len(t, opts.ManufacturerData, 1)
	assert.Equal(t, uint16(0x0059), opts.ManufacturerData[0].CompanyID)
	assert.Equal(t, []byte{1, 2}, opts.ManufacturerData[0].Data)
	assert.Equal(t, bluetooth.NewDuration(100*time.Millisecond), opts.Interval)

	_, err = advOptions(p, []byte{0x05, 0x09}, nil)
	assert.Error(t, err)
}

func TestUUID(t *testing.T) {
	tests := []struct {
		in   ble.UUID
		want bluetooth.UUID
	}{
		{ble.UUID16(0x180D), bluetooth.New16BitUUID(0x180D)},
		{ble.UUID32(0x12345678), bluetooth.New32BitUUID(0x12345678)},
		{
			ble.MustParseUUID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E"),
			bluetooth.NewUUID([16]byte{0x6E, 0x40, 0x00, 0x01, 0xB5, 0xA3, 0xF3, 0x93, 0xE0, 0xA9, 0xE5, 0x0E, 0x24, 0xDC, 0xCA, 0x9E}),
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, uuid(tt.in), tt.in.String())
	}
}

func TestAdvertisingDuration(t *testing.T) {
	adv := &fakeAdv{}
	s := newStack(&fakeAdapter{}, adv, nil)
	ev := &events{complete: make(chan error, 1)}
	require.NoError(t, s.Enable(ble.AddrPublic, ble.Addr{}, ev))

	p := ble.AdvParams{IntervalMin: 0x00F4, IntervalMax: 0x00F4, Duration: 10 * time.Millisecond}
	require.NoError(t, s.StartAdvertising(p, nil, nil))
	assert.Equal(t, 1, adv.started)

	select {
	case err := <-ev.complete:
		assert.ErrorIs(t, err, ble.ErrAdvTimeout)
	case <-time.After(time.Second):
		t.Fatal("advertising did not time out")
	}
	assert.Equal(t, 1, adv.stopped)
}
