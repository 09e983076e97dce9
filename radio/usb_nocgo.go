//go:build !cgo

package radio

func openUSB(device string) (Device, error) { return nil, ErrNoUSB }

func listUSB() ([]DeviceInfo, error) { return nil, ErrNoUSB }
