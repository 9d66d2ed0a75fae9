package linux

import (
	"encoding/binary"
	"testing"

	"github.com/XC-/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceInfo(t *testing.T) {
	b := make([]byte, devInfoSize)
	binary.LittleEndian.PutUint16(b[0:], 1)
	copy(b[2:], "hci1")
	copy(b[10:], []byte{0x55, 0x44, 0x33, 0x22, 0x11, 0x00})
	binary.LittleEndian.PutUint32(b[16:], devFlagUp|0x04)
	binary.LittleEndian.PutUint16(b[44:], 1021)

	d, err := parseDeviceInfo(b)
	require.NoError(t, err)
	assert.Equal(t, DeviceInfo{
		ID:     1,
		Name:   "hci1",
		Addr:   ble.Addr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		Up:     true,
		ACLMTU: 1021,
	}, d)
	assert.Equal(t, "hci1 00:11:22:33:44:55 up", d.String())

	binary.LittleEndian.PutUint32(b[16:], 0)
	d, err = parseDeviceInfo(b)
	require.NoError(t, err)
	assert.False(t, d.Up)

	_, err = parseDeviceInfo(b[:40])
	assert.Error(t, err)
}

func TestParseDeviceList(t *testing.T) {
	b := make([]byte, devListReqSize)
	binary.LittleEndian.PutUint16(b, 2)
	binary.LittleEndian.PutUint16(b[4:], 0)
	binary.LittleEndian.PutUint16(b[12:], 3)
	assert.Equal(t, []uint16{0, 3}, parseDeviceList(b))

	binary.LittleEndian.PutUint16(b, 0xFF)
	assert.Len(t, parseDeviceList(b), maxDevices)
}
