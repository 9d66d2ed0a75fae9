package bletest

import (
	"errors"
	"testing"
	"time"

	"github.com/XC-/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []ble.Event
	infos  []ble.EventInfo
}

func (r *recorder) handle(d ble.Device, e ble.Event, info ble.EventInfo) {
	r.events = append(r.events, e)
	r.infos = append(r.infos, info)
}

func counterService(t *testing.T) *ble.Service {
	svc, err := ble.CreateService(make([]byte, ble.ArenaSize(2)), ble.UUID16(0xFFE0), true, 2)
	require.NoError(t, err)
	n := 0
	require.NoError(t, svc.AddCharacteristic(ble.UUID16(0xFFE1), ble.Characteristic{
		Flags: ble.FlagRead | ble.FlagNotify,
		Handler: ble.HandlerFunc(func(resp ble.ResponseWriter, req *ble.AccessRequest) {
			resp.Write([]byte{byte(n)})
			n++
		}),
	}))
	require.NoError(t, svc.AddCharacteristic(ble.UUID16(0xFFE2), ble.Characteristic{
		Flags:   ble.FlagWrite,
		Context: &n,
		Handler: ble.HandlerFunc(func(resp ble.ResponseWriter, req *ble.AccessRequest) {
			if len(req.Data) != 1 {
				resp.SetStatus(ble.StatusUnexpectedError)
				return
			}
			*req.Context.(*int) = int(req.Data[0])
		}),
	}))
	return svc
}

func TestDeviceLifecycle(t *testing.T) {
	s := New(nil)
	d, err := ble.NewDevice(s, ble.WithName("counter"))
	require.NoError(t, err)

	var rec recorder
	d.Handle(ble.GAPEvent(rec.handle))

	svc := counterService(t)
	require.NoError(t, d.AddService(svc))
	require.NoError(t, d.Enable())
	assert.Equal(t, ble.StatePoweredOn, d.State())
	assert.Equal(t, []ble.Event{ble.EventReady}, rec.events)

	require.NoError(t, d.AdvertiseNameAndServices("counter", []ble.UUID{svc.UUID()}))
	assert.True(t, s.Advertising())
	assert.Equal(t, ble.AdvAdvertising, d.Advertiser().State())

	last, ok := s.Last()
	require.True(t, ok)
	var adv ble.Advertisement
	require.NoError(t, adv.Unmarshal(last.Adv))
	require.NoError(t, adv.Unmarshal(last.Rsp))
	assert.Equal(t, "counter", adv.LocalName)
	require.Len(t, adv.Services, 1)
	assert.True(t, adv.Services[0].Equal(svc.UUID()))
	assert.Equal(t, ble.Forever, last.Params.Duration)

	s.Connect(1)
	assert.Equal(t, ble.AdvStopped, d.Advertiser().State())
	assert.False(t, s.Advertising())

	n, ok := s.Find(ble.UUID16(0xFFE1))
	require.True(t, ok)
	v, err := s.Read(1, n)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, v)

	w, ok := s.Find(ble.UUID16(0xFFE2))
	require.True(t, ok)
	require.NoError(t, s.Write(1, w, []byte{41}))
	v, err = s.Read(1, n)
	require.NoError(t, err)
	assert.Equal(t, []byte{41}, v)
	assert.Error(t, s.Write(1, w, []byte{1, 2}))
	_, err = s.Read(1, w)
	assert.ErrorIs(t, err, ble.ErrNotPermitted)

	s.Disconnect(1, nil)
	assert.Equal(t, []ble.Event{ble.EventReady, ble.EventConnected, ble.EventDisconnected}, rec.events)
	assert.Equal(t, uint16(1), rec.infos[2].Conn)

	require.NoError(t, d.Disable())
	assert.Equal(t, ble.StatePoweredOff, d.State())
	_, _, err = d.Address()
	assert.ErrorIs(t, err, ble.ErrNotReady)
}

func TestStartBeforeSync(t *testing.T) {
	s := New(nil)
	s.Manual = true
	d, err := ble.NewDevice(s)
	require.NoError(t, err)
	require.NoError(t, d.Enable())

	err = d.AdvertiseNameAndServices("early", nil)
	assert.ErrorIs(t, err, ble.ErrNotReady)
	assert.Empty(t, s.History())

	s.Sync()
	require.NoError(t, d.StartAdvertising())
	assert.Len(t, s.History(), 1)
}

func TestAdvertisingEnd(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		reason   error
		event    ble.Event
		starts   int
		state    ble.AdvState
	}{
		{"timeout", 5 * time.Second, ble.ErrAdvTimeout, ble.EventAdvComplete, 1, ble.AdvStopped},
		{"complete", ble.Forever, nil, ble.EventAdvComplete, 1, ble.AdvStopped},
		{"suspended and restarted", ble.Forever, errors.New("controller busy"), ble.EventAdvSuspended, 2, ble.AdvAdvertising},
		{"suspended", 5 * time.Second, errors.New("controller busy"), ble.EventAdvSuspended, 1, ble.AdvStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil)
			d, err := ble.NewDevice(s)
			require.NoError(t, err)
			var rec recorder
			d.Handle(ble.GAPEvent(rec.handle))
			require.NoError(t, d.Enable())
			require.NoError(t, d.Advertiser().SetDuration(tt.duration))
			require.NoError(t, d.AdvertiseNameAndServices("gopher", nil))

			s.EndAdvertising(tt.reason)
			assert.Equal(t, tt.event, rec.events[len(rec.events)-1])
			assert.Len(t, s.History(), tt.starts)
			assert.Equal(t, tt.state, d.Advertiser().State())
		})
	}
}

func TestRegistrationStages(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageCount, "count"},
		{StageAdd, "add"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s := New(nil)
			s.Fail(tt.stage, ErrInjected)
			d, err := ble.NewDevice(s)
			require.NoError(t, err)

			err = d.AddService(counterService(t))
			var re *ble.RegistrationError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.want, re.Stage)
			assert.ErrorIs(t, err, ble.ErrRegistration)
			assert.ErrorIs(t, err, ErrInjected)
			assert.Empty(t, d.Services())

			s.Fail(tt.stage, nil)
			assert.NoError(t, d.AddService(counterService(t)))
		})
	}
}

func TestEnableFailure(t *testing.T) {
	s := New(nil)
	s.Fail(StageEnable, ErrInjected)
	d, err := ble.NewDevice(s)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Enable(), ErrInjected)
	assert.Equal(t, ble.StateUnsupported, d.State())
}

func TestStartFailure(t *testing.T) {
	s := New(nil)
	d, err := ble.NewDevice(s)
	require.NoError(t, err)
	require.NoError(t, d.Enable())

	s.Fail(StageStart, ErrInjected)
	assert.ErrorIs(t, d.AdvertiseNameAndServices("gopher", nil), ErrInjected)
	assert.Equal(t, ble.AdvConfigured, d.Advertiser().State())
}

func TestStaticAddress(t *testing.T) {
	addr, err := ble.ParseAddr("C0:11:22:33:44:55")
	require.NoError(t, err)

	s := New(nil)
	d, err := ble.NewDevice(s, ble.WithAddress(ble.AddrStatic, addr))
	require.NoError(t, err)
	require.NoError(t, d.Enable())

	got, typ, err := d.Address()
	require.NoError(t, err)
	assert.Equal(t, addr, got)
	assert.Equal(t, ble.AddrStatic, typ)

	require.NoError(t, d.AdvertiseNameAndServices("gopher", nil))
	last, _ := s.Last()
	assert.Equal(t, ble.AddrStatic, last.Params.OwnAddr)
}

func TestGAPServices(t *testing.T) {
	s := New(nil)
	d, err := ble.NewDevice(s, ble.WithName("kitchen"), ble.WithGAPServices())
	require.NoError(t, err)
	require.NoError(t, d.Enable())
	require.Len(t, d.Services(), 2)

	n, ok := s.Find(ble.UUID16(0x2A00))
	require.True(t, ok)
	v, err := s.Read(1, n)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", string(v))

	// Re-enabling does not register them twice.
	require.NoError(t, d.Disable())
	require.NoError(t, d.Enable())
	assert.Len(t, d.Services(), 2)
}

func TestMTU(t *testing.T) {
	s := New(nil)
	d, err := ble.NewDevice(s)
	require.NoError(t, err)
	var rec recorder
	d.Handle(ble.GATTEvent(rec.handle))
	require.NoError(t, d.Enable())

	s.ExchangeMTU(3, 185)
	require.Equal(t, []ble.Event{ble.EventMTU}, rec.events)
	assert.Equal(t, ble.EventInfo{Conn: 3, MTU: 185}, rec.infos[0])
}
