//go:build !linux

package linux

import (
	"errors"
	"io"
)

func newSocket(n int) (io.ReadWriteCloser, error) {
	return nil, errors.New("hci sockets are only available on linux")
}

// Devices lists the HCI controllers known to the kernel.
func Devices() ([]DeviceInfo, error) {
	return nil, errors.New("hci sockets are only available on linux")
}
