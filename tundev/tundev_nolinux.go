//go:build !linux

package tundev

import "errors"

// Device is an unsupported stand-in on non-Linux platforms; only the
// TUNSETIFF ioctl path is implemented, and that is Linux-specific.
type Device struct{}

// Open always fails on non-Linux platforms.
func Open(name string) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func (d *Device) Name() string { return "" }

func (d *Device) Read(b []byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (d *Device) Write(b []byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (d *Device) Close() error {
	return errors.ErrUnsupported
}
