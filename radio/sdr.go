package radio

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/chzchzchz/duocap/logging"
)

var ErrRateOutOfRange = errors.New("sample rate out of range")
var ErrNoUSB = errors.New("usb backend not built (requires cgo)")
var ErrNoDevices = errors.New("no rtl-sdr devices found")
var ErrUnknownBackend = errors.New("unknown backend")

const DefaultSampleRate = uint32(2048000)

// Device is an RTL-SDR dongle reached through one of the backends.
// SetCenterFreq blocks on the tuner and must not be called from a read
// callback.
type Device interface {
	SetCenterFreq(hz uint32) error
	SetSampleRate(rate uint32) error
	SetGain(g Gain) error
	SetFreqCorrection(ppm int) error
	SetDirectSampling(on bool) error
	ResetBuffer() error
	ReadSync(buf []byte) (int, error)
	// ReadAsync calls cb with each transfer until CancelAsync. The slice
	// passed to cb is reused after cb returns.
	ReadAsync(cb func([]byte), buffers int, transferUnit uint32) error
	CancelAsync() error
	Close() error
}

type Backend string

const (
	BackendUSB    Backend = "usb"
	BackendRTLTCP Backend = "rtltcp"
)

// Gain is either tuner AGC or a manual gain in tenths of a dB.
type Gain struct {
	Auto     bool
	TenthsDB int
}

var AutoGain = Gain{Auto: true}

// GainDB converts a gain in dB; zero selects automatic gain.
func GainDB(db float64) Gain {
	if db == 0 {
		return AutoGain
	}
	return Gain{TenthsDB: int(math.Round(db * 10))}
}

func (g Gain) String() string {
	if g.Auto {
		return "auto"
	}
	return fmt.Sprintf("%.1fdB", float64(g.TenthsDB)/10)
}

type DeviceConfig struct {
	Backend Backend `json:"backend"`
	// Device is a USB index or serial number.
	Device string `json:"device"`
	// Addr is the rtl_tcp host:port.
	Addr  string `json:"addr"`
	Spawn bool   `json:"spawn"`

	SampleRate     uint32 `json:"sample_rate"`
	Gain           Gain   `json:"gain"`
	PPM            int    `json:"ppm"`
	DirectSampling bool   `json:"direct_sampling"`
}

type DeviceInfo struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Serial       string `json:"serial"`
}

// Open opens the device named by cfg without configuring it; see Setup.
func Open(ctx context.Context, cfg DeviceConfig) (Device, error) {
	logging.Debug("opening device", logging.Fields{
		logging.FieldBackend: string(cfg.Backend),
		logging.FieldDevice:  cfg.Device,
	})
	switch cfg.Backend {
	case BackendUSB, "":
		return openUSB(cfg.Device)
	case BackendRTLTCP:
		return openRTLTCP(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}

// Setup applies direct sampling, sample rate, gain and frequency correction
// in that order. A zero correction is left untouched.
func Setup(dev Device, cfg DeviceConfig) error {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = DefaultSampleRate
	}
	if err := CheckSampleRate(rate); err != nil {
		return err
	}
	if cfg.DirectSampling {
		if err := dev.SetDirectSampling(true); err != nil {
			return fmt.Errorf("enable direct sampling: %w", err)
		}
	}
	if err := dev.SetSampleRate(rate); err != nil {
		return fmt.Errorf("set sample rate %d: %w", rate, err)
	}
	if err := dev.SetGain(cfg.Gain); err != nil {
		return fmt.Errorf("set gain %v: %w", cfg.Gain, err)
	}
	if cfg.PPM != 0 {
		if err := dev.SetFreqCorrection(cfg.PPM); err != nil {
			return fmt.Errorf("set ppm %d: %w", cfg.PPM, err)
		}
	}
	logging.Info("device configured", logging.Fields{
		logging.FieldDevice:     cfg.Device,
		logging.FieldSampleRate: rate,
		logging.FieldGain:       cfg.Gain.String(),
		logging.FieldPPM:        cfg.PPM,
	})
	return nil
}

// List enumerates USB dongles.
func List() ([]DeviceInfo, error) { return listUSB() }

// CheckSampleRate rejects rates the RTL2832 cannot produce.
func CheckSampleRate(rate uint32) error {
	if !isValidRate(rate) {
		return fmt.Errorf("%w: %d", ErrRateOutOfRange, rate)
	}
	return nil
}

func isValidRate(rate uint32) bool {
	return !((rate <= 225000) || (rate > 3200000) ||
		((rate > 300000) && (rate <= 900000)))
}
