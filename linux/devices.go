package linux

import (
	"bytes"
	"fmt"

	"github.com/XC-/ble"
)

const (
	maxDevices     = 16
	devInfoSize    = 92
	devListReqSize = 4 + maxDevices*8

	devFlagUp = 1 << 0
)

// DeviceInfo describes one HCI controller known to the kernel.
type DeviceInfo struct {
	ID     uint16
	Name   string
	Addr   ble.Addr
	Up     bool
	ACLMTU uint16
}

func (d DeviceInfo) String() string {
	state := "down"
	if d.Up {
		state = "up"
	}
	return fmt.Sprintf("%s %s %s", d.Name, d.Addr, state)
}

// parseDeviceInfo decodes a struct hci_dev_info.
func parseDeviceInfo(b []byte) (DeviceInfo, error) {
	if len(b) < devInfoSize {
		return DeviceInfo{}, fmt.Errorf("short device info: %d bytes", len(b))
	}
	var d DeviceInfo
	d.ID = o.Uint16(b[0:])
	d.Name = string(bytes.TrimRight(b[2:10], "\x00"))
	// bdaddr is little endian on the wire
	for i := 0; i < 6; i++ {
		d.Addr[i] = b[15-i]
	}
	d.Up = o.Uint32(b[16:])&devFlagUp != 0
	d.ACLMTU = o.Uint16(b[44:])
	return d, nil
}

// parseDeviceList decodes the ids of a struct hci_dev_list_req.
func parseDeviceList(b []byte) []uint16 {
	n := int(o.Uint16(b))
	if n > maxDevices {
		n = maxDevices
	}
	ids := make([]uint16, n)
	for i := range ids {
		ids[i] = o.Uint16(b[4+i*8:])
	}
	return ids
}
