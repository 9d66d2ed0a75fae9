//go:build linux

package linux

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type socket struct {
	fd  int
	rmu sync.Mutex
	wmu sync.Mutex
}

func newSocket(n int) (io.ReadWriteCloser, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, err
	}

	// attempt to use the linux 3.14 feature, if this fails with EINVAL fall back to raw access
	// on older kernels
	sa := unix.SockaddrHCI{Dev: uint16(n), Channel: unix.HCI_CHANNEL_USER}
	if err = unix.Bind(fd, &sa); errors.Is(err, unix.EINVAL) {
		sa := unix.SockaddrHCI{Dev: uint16(n), Channel: unix.HCI_CHANNEL_RAW}
		err = unix.Bind(fd, &sa)
	}
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &socket{fd: fd}, nil
}

func (s *socket) Read(b []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return unix.Read(s.fd, b)
}

func (s *socket) Write(b []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return unix.Write(s.fd, b)
}

func (s *socket) Close() error {
	return unix.Close(s.fd)
}

const (
	ioctlDevList = 0x800448D2 // HCIGETDEVLIST
	ioctlDevInfo = 0x800448D3 // HCIGETDEVINFO
)

func ioctl(fd int, req uintptr, b []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&b[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// Devices lists the HCI controllers known to the kernel.
func Devices() ([]DeviceInfo, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	req := make([]byte, devListReqSize)
	o.PutUint16(req, maxDevices)
	if err := ioctl(fd, ioctlDevList, req); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var dd []DeviceInfo
	for _, id := range parseDeviceList(req) {
		b := make([]byte, devInfoSize)
		o.PutUint16(b, id)
		if err := ioctl(fd, ioctlDevInfo, b); err != nil {
			return dd, fmt.Errorf("hci%d info: %w", id, err)
		}
		d, err := parseDeviceInfo(b)
		if err != nil {
			return dd, err
		}
		dd = append(dd, d)
	}
	return dd, nil
}
