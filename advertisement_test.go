package ble

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameScanResponse(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{
			name: "gopher",
			want: "0709676f70686572",
		},
		{
			name: "gophergophergophergophergophergopher",
			want: "1e08676f70686572676f70686572676f70686572676f70686572676f706865",
		},
	}

	for _, tt := range cases {
		pack := NameScanResponse(tt.name)
		if got := fmt.Sprintf("%x", pack.Bytes()); got != tt.want {
			t.Errorf("NameScanResponse(%q): got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want []Field
		err  bool
	}{
		{"empty", nil, nil, false},
		{"one", []byte{0x02, 0x01, 0x06}, []Field{{0x01, []byte{0x06}}}, false},
		{"zero padded", []byte{0x02, 0x01, 0x06, 0x00, 0x00, 0x00}, []Field{{0x01, []byte{0x06}}}, false},
		{"truncated", []byte{0x02, 0x01, 0x06, 0x05, 0x09, 'a'}, []Field{{0x01, []byte{0x06}}}, true},
		{"type only", []byte{0x01, 0x09}, []Field{{0x09, []byte{}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ff, err := ParseFields(tt.b)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, ff)
		})
	}
}

func TestUnmarshal(t *testing.T) {
	adv, _ := ServiceAdvertisement([]UUID{UUID16(0x180D), UUID32(0x12345678)})
	require.NoError(t, adv.AppendTxPower(-12))
	require.NoError(t, adv.AppendAppearance(0x0340))
	require.NoError(t, adv.Append(0x1A, []byte{0x20, 0x00}))

	var rsp AdvPayload
	require.NoError(t, rsp.AppendName("hrm"))
	require.NoError(t, rsp.AppendManufacturerData(0x0059, []byte{1}))
	require.NoError(t, rsp.Append(0x16, []byte{0x0F, 0x18, 0x64}))
	require.NoError(t, rsp.Append(0x14, []byte{0x00, 0x18}))

	var a Advertisement
	require.NoError(t, a.Unmarshal(adv.Bytes()))
	require.NoError(t, a.Unmarshal(rsp.Bytes()))

	assert.Equal(t, "hrm", a.LocalName)
	assert.True(t, a.Connectable)
	assert.Equal(t, -12, a.TxPowerLevel)
	assert.Equal(t, uint16(0x0340), a.Appearance)
	require.Len(t, a.Services, 2)
	assert.True(t, a.Services[0].Equal(UUID16(0x180D)))
	assert.True(t, a.Services[1].Equal(UUID32(0x12345678)))
	assert.Equal(t, []byte{0x59, 0x00, 0x01}, a.ManufacturerData)
	assert.Equal(t, []byte{0x0F, 0x18, 0x64}, a.ServiceData)
	require.Len(t, a.SolicitedService, 1)
	assert.True(t, a.SolicitedService[0].Equal(UUID16(0x1800)))
	assert.Equal(t, []Field{{Type: 0x1A, Data: []byte{0x20, 0x00}}}, a.Other)
}

func TestUnmarshalInvalid(t *testing.T) {
	for _, b := range [][]byte{
		{0x01, typeFlags},
		{0x01, typeTxPower},
		{0x02, typeAppearance, 0x00},
		{0x05, typeCompleteName, 'a'},
	} {
		var a Advertisement
		assert.Error(t, a.Unmarshal(b), "% X", b)
	}
}

func TestNonConnectableFlags(t *testing.T) {
	var p AdvPayload
	require.NoError(t, p.AppendFlags(FlagLEOnly))
	var a Advertisement
	require.NoError(t, a.Unmarshal(p.Bytes()))
	assert.False(t, a.Connectable)
}

func TestFieldName(t *testing.T) {
	assert.Equal(t, "Flags", FieldName(typeFlags))
	assert.Equal(t, "Manufacturer Specific Data", FieldName(typeManufacturerData))
	assert.Equal(t, "Unknown (0x2A)", FieldName(0x2A))
}
