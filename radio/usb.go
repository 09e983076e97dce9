//go:build cgo

package radio

import (
	"fmt"
	"strconv"

	rtlsdr "github.com/jpoirier/gortlsdr"

	"github.com/chzchzchz/duocap/logging"
)

// usbDevice is a dongle driven through librtlsdr.
type usbDevice struct {
	dev   *rtlsdr.Context
	index int
}

// usbIndex resolves an index or serial number to a device index.
func usbIndex(device string, count int) (int, error) {
	if device == "" {
		return 0, nil
	}
	if idx, err := strconv.Atoi(device); err == nil && idx >= 0 && idx < count {
		return idx, nil
	}
	idx, err := rtlsdr.GetIndexBySerial(device)
	if err != nil {
		return 0, fmt.Errorf("no device matching %q: %w", device, err)
	}
	return idx, nil
}

func openUSB(device string) (Device, error) {
	count := rtlsdr.GetDeviceCount()
	if count == 0 {
		return nil, ErrNoDevices
	}
	idx, err := usbIndex(device, count)
	if err != nil {
		return nil, err
	}
	dev, err := rtlsdr.Open(idx)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", idx, err)
	}
	logging.Info("opened device", logging.Fields{
		logging.FieldDevice: idx,
		"name":              rtlsdr.GetDeviceName(idx),
	})
	return &usbDevice{dev: dev, index: idx}, nil
}

func listUSB() ([]DeviceInfo, error) {
	count := rtlsdr.GetDeviceCount()
	ret := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		info := DeviceInfo{Index: i, Name: rtlsdr.GetDeviceName(i)}
		m, p, s, err := rtlsdr.GetDeviceUsbStrings(i)
		if err != nil {
			logging.Warn("could not read usb strings", logging.Fields{
				logging.FieldDevice: i,
				logging.FieldError:  err,
			})
		} else {
			info.Manufacturer, info.Product, info.Serial = m, p, s
		}
		ret = append(ret, info)
	}
	return ret, nil
}

func (u *usbDevice) SetCenterFreq(hz uint32) error { return u.dev.SetCenterFreq(int(hz)) }

func (u *usbDevice) SetSampleRate(rate uint32) error { return u.dev.SetSampleRate(int(rate)) }

// SetGain picks the supported tuner gain closest to the request.
func (u *usbDevice) SetGain(g Gain) error {
	if g.Auto {
		return u.dev.SetTunerGainMode(false)
	}
	if err := u.dev.SetTunerGainMode(true); err != nil {
		return err
	}
	gains, err := u.dev.GetTunerGains()
	if err != nil {
		return err
	}
	gain := nearestGain(gains, g.TenthsDB)
	if gain != g.TenthsDB {
		logging.Debug("using nearest tuner gain", logging.Fields{
			logging.FieldGain: Gain{TenthsDB: gain}.String(),
		})
	}
	return u.dev.SetTunerGain(gain)
}

func (u *usbDevice) SetFreqCorrection(ppm int) error { return u.dev.SetFreqCorrection(ppm) }

func (u *usbDevice) SetDirectSampling(on bool) error {
	if on {
		return u.dev.SetDirectSampling(rtlsdr.SamplingQADC)
	}
	return u.dev.SetDirectSampling(rtlsdr.SamplingNone)
}

func (u *usbDevice) ResetBuffer() error { return u.dev.ResetBuffer() }

func (u *usbDevice) ReadSync(buf []byte) (int, error) { return u.dev.ReadSync(buf, len(buf)) }

func (u *usbDevice) ReadAsync(cb func([]byte), buffers int, transferUnit uint32) error {
	return u.dev.ReadAsync(cb, nil, buffers, int(transferUnit))
}

func (u *usbDevice) CancelAsync() error { return u.dev.CancelAsync() }

func (u *usbDevice) Close() error { return u.dev.Close() }
