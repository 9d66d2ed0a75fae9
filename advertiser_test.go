package ble

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type radio struct {
	starts []AdvParams
	adv    []byte
	rsp    []byte
	stops  int
	err    error
}

func (r *radio) StartAdvertising(p AdvParams, adv, rsp []byte) error {
	if r.err != nil {
		return r.err
	}
	r.starts = append(r.starts, p)
	r.adv = append([]byte(nil), adv...)
	r.rsp = append([]byte(nil), rsp...)
	return nil
}

func (r *radio) StopAdvertising() error {
	r.stops++
	return nil
}

func configured(t *testing.T, m AdvMode) (*Advertiser, *radio) {
	t.Helper()
	r := &radio{}
	a := NewAdvertiser(r, nil)
	require.NoError(t, a.Init(m))
	p, _ := ServiceAdvertisement([]UUID{UUID16(0x180F)})
	require.NoError(t, a.SetPayload(&p))
	a.setReady(true)
	return a, r
}

func TestAdvertiserDefaults(t *testing.T) {
	a := NewAdvertiser(&radio{}, nil)
	assert.Equal(t, AdvIdle, a.State())
	assert.Equal(t, AdvParams{
		Mode:        AdvInd,
		IntervalMin: 0x00F4,
		IntervalMax: 0x00F4,
		ChannelMap:  7,
		Duration:    Forever,
	}, a.Params())
}

func TestAdvertiserStart(t *testing.T) {
	r := &radio{}
	a := NewAdvertiser(r, nil)
	assert.ErrorIs(t, a.Start(), ErrNotReady)

	a.setReady(true)
	assert.ErrorIs(t, a.Start(), ErrPrecondition, "no payload set")
	assert.Equal(t, AdvIdle, a.State())

	adv, _ := ServiceAdvertisement(nil)
	rsp := NameScanResponse("gopher")
	require.NoError(t, a.SetPayload(&adv))
	require.NoError(t, a.SetScanResponse(&rsp))
	assert.Equal(t, AdvConfigured, a.State())
	assert.Empty(t, r.starts)

	require.NoError(t, a.Start())
	assert.Equal(t, AdvAdvertising, a.State())
	require.Len(t, r.starts, 1)
	assert.Equal(t, adv.Bytes(), r.adv)
	assert.Equal(t, rsp.Bytes(), r.rsp)

	require.NoError(t, a.Start())
	assert.Len(t, r.starts, 1, "starting twice is a no-op")

	require.NoError(t, a.Stop())
	assert.Equal(t, AdvStopped, a.State())
	require.NoError(t, a.Stop())
	assert.Equal(t, 1, r.stops)

	require.NoError(t, a.Start())
	assert.Equal(t, AdvAdvertising, a.State())
	assert.Len(t, r.starts, 2)
}

func TestAdvertiserStartFailure(t *testing.T) {
	a, r := configured(t, AdvInd)
	r.err = errors.New("controller busy")
	assert.ErrorIs(t, a.Start(), r.err)
	assert.Equal(t, AdvConfigured, a.State())
}

func TestAdvertiserPayloadCopied(t *testing.T) {
	a, r := configured(t, AdvInd)
	var p AdvPayload
	require.NoError(t, p.AppendName("one"))
	require.NoError(t, a.SetPayload(&p))
	p.Clear()
	require.NoError(t, p.AppendName("two"))
	require.NoError(t, a.Start())

	var got Advertisement
	require.NoError(t, got.Unmarshal(r.adv))
	assert.Equal(t, "one", got.LocalName)
}

func TestSetInterval(t *testing.T) {
	tests := []struct {
		name     string
		min, max time.Duration
		umin     uint16
		umax     uint16
		err      bool
	}{
		{"bounds", 20 * time.Millisecond, 10240 * time.Millisecond, 0x0020, 0x4000, false},
		{"typical", 100 * time.Millisecond, 200 * time.Millisecond, 160, 320, false},
		{"equal", 152500 * time.Microsecond, 152500 * time.Microsecond, 0x00F4, 0x00F4, false},
		{"too short", 19 * time.Millisecond, 100 * time.Millisecond, 0, 0, true},
		{"too long", 100 * time.Millisecond, 10241 * time.Millisecond, 0, 0, true},
		{"reversed", 200 * time.Millisecond, 100 * time.Millisecond, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdvertiser(&radio{}, nil)
			before := a.Params()
			err := a.SetInterval(tt.min, tt.max)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidInterval)
				assert.ErrorIs(t, err, ErrPrecondition)
				assert.Equal(t, before, a.Params())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.umin, a.Params().IntervalMin)
			assert.Equal(t, tt.umax, a.Params().IntervalMax)
		})
	}
}

func TestAdvertiserPreconditions(t *testing.T) {
	a := NewAdvertiser(&radio{}, nil)
	assert.ErrorIs(t, a.SetDuration(0), ErrPrecondition)
	assert.ErrorIs(t, a.SetDuration(-time.Second), ErrPrecondition)
	assert.ErrorIs(t, a.SetChannelMap(0), ErrPrecondition)
	assert.ErrorIs(t, a.SetChannelMap(0x08), ErrPrecondition)
	require.NoError(t, a.SetChannelMap(0x01))
	assert.Equal(t, uint8(0x01), a.Params().ChannelMap)
}

func TestUpdateRestarts(t *testing.T) {
	a, r := configured(t, AdvInd)
	require.NoError(t, a.Start())

	require.NoError(t, a.SetInterval(100*time.Millisecond, 100*time.Millisecond))
	assert.Equal(t, AdvAdvertising, a.State())
	assert.Equal(t, 1, r.stops)
	require.Len(t, r.starts, 2)
	assert.Equal(t, uint16(160), r.starts[1].IntervalMin)

	// Changes while stopped wait for the next start.
	require.NoError(t, a.Stop())
	require.NoError(t, a.SetDuration(time.Minute))
	assert.Len(t, r.starts, 2)
	assert.Equal(t, AdvStopped, a.State())
}

func TestInitStops(t *testing.T) {
	a, r := configured(t, AdvInd)
	require.NoError(t, a.SetInterval(time.Second, time.Second))
	require.NoError(t, a.Start())

	require.NoError(t, a.Init(AdvNonconnInd))
	assert.Equal(t, 1, r.stops)
	assert.Equal(t, AdvIdle, a.State())
	assert.Equal(t, AdvNonconnInd, a.Params().Mode)
	assert.Equal(t, uint16(0x00F4), a.Params().IntervalMin)
	adv, rsp := a.Payloads()
	assert.Zero(t, adv.Len())
	assert.Zero(t, rsp.Len())
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		reason   error
		event    Event
		state    AdvState
		starts   int
	}{
		{"elapsed", time.Second, ErrAdvTimeout, EventAdvComplete, AdvStopped, 1},
		{"nil reason", Forever, nil, EventAdvComplete, AdvStopped, 1},
		{"wrapped timeout", Forever, errors.Join(errors.New("hci"), ErrAdvTimeout), EventAdvComplete, AdvStopped, 1},
		{"preempted forever", Forever, errors.New("preempted"), EventAdvSuspended, AdvAdvertising, 2},
		{"preempted timed", time.Second, errors.New("preempted"), EventAdvSuspended, AdvStopped, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, r := configured(t, AdvInd)
			require.NoError(t, a.SetDuration(tt.duration))
			require.NoError(t, a.Start())
			assert.Equal(t, tt.event, a.Complete(tt.reason))
			assert.Equal(t, tt.state, a.State())
			assert.Len(t, r.starts, tt.starts)
		})
	}
}

func TestCompleteNotReady(t *testing.T) {
	a, r := configured(t, AdvInd)
	require.NoError(t, a.Start())
	a.setReady(false)
	assert.Equal(t, AdvStopped, a.State())
	assert.Equal(t, EventAdvSuspended, a.Complete(errors.New("reset")))
	assert.Len(t, r.starts, 1)
}

func TestConnected(t *testing.T) {
	for _, m := range []AdvMode{AdvInd, AdvDirectInd, AdvNonconnInd, AdvScanInd} {
		a, _ := configured(t, m)
		require.NoError(t, a.Start())
		a.connected()
		want := AdvAdvertising
		if m.Connectable() {
			want = AdvStopped
		}
		assert.Equal(t, want, a.State(), m.String())
	}
}

func TestAdvStrings(t *testing.T) {
	assert.Equal(t, "ADV_IND", AdvInd.String())
	assert.Equal(t, "ADV_SCAN_IND", AdvScanInd.String())
	assert.Equal(t, "AdvMode(9)", AdvMode(9).String())
	assert.Equal(t, "Configured", AdvConfigured.String())
	assert.Equal(t, "Unknown", AdvState(9).String())
}
