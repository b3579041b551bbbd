//go:build linux

package tundev

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ifreq mirrors struct ifreq's layout for the TUNSETIFF request: an
// interface name followed by the flags field used to select TUN vs
// TAP and whether packet information is prefixed to each frame.
type ifreq struct {
	name  [16]byte
	flags uint16
	_     [22]byte // pad to the kernel's sizeof(struct ifreq)
}

func ioctl(fd int, request uintptr, ifr *ifreq) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(unsafe.Pointer(ifr)))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}
