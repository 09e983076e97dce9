package radio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/duocap/logging"
)

var dongleMagic = [...]byte{'R', 'T', 'L', '0'}

var ErrBadMagic = errors.New("bad rtl_tcp magic")

const DefaultRTLTCPAddr = "127.0.0.1:1234"

// DongleInfo is the header rtl_tcp sends on connection.
type DongleInfo struct {
	Magic     [4]byte
	Tuner     uint32
	GainCount uint32
}

// Valid checks the received magic number matches 'RTL0'.
func (d DongleInfo) Valid() bool {
	return d.Magic == dongleMagic
}

type command struct {
	Command   uint8
	Parameter uint32
}

// Command constants defined in rtl_tcp.c
const (
	centerFreq = iota + 1
	sampleRate
	tunerGainMode
	tunerGain
	freqCorrection
	tunerIfGain
	testMode
	agcMode
	directSampling
	offsetTuning
	rtlXtalFreq
	tunerXtalFreq
	gainByIndex
)

// rtlTCP drives a dongle through an rtl_tcp server. Commands and sample
// reads share one connection.
type rtlTCP struct {
	conn *net.TCPConn
	Info DongleInfo

	wmu       sync.Mutex
	cancelled atomic.Bool
	proc      *rtlTCPProcess
}

func dialRTLTCP(addr string) (_ *rtlTCP, err error) {
	taddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTCP("tcp", nil, taddr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to rtl_tcp: %w", err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()
	sdr := &rtlTCP{conn: conn}
	if err = binary.Read(conn, binary.BigEndian, &sdr.Info); err != nil {
		return nil, fmt.Errorf("error getting dongle information: %w", err)
	}
	if !sdr.Info.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, sdr.Info.Magic)
	}
	return sdr, nil
}

// connect dials addr until the server accepts or tries run out.
func connect(ctx context.Context, addr string, tries int) (sdr *rtlTCP, err error) {
	for i := 0; i < tries; i++ {
		if sdr, err = dialRTLTCP(addr); err == nil {
			return sdr, nil
		} else if errors.Is(err, ErrBadMagic) {
			return nil, err
		}
		logging.Debug("rtl_tcp not ready", logging.Fields{
			logging.FieldAddr:    addr,
			logging.FieldAttempt: i + 1,
			logging.FieldError:   err,
		})
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

func openRTLTCP(ctx context.Context, cfg DeviceConfig) (Device, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultRTLTCPAddr
	}
	var proc *rtlTCPProcess
	tries := 1
	if cfg.Spawn {
		var err error
		if proc, err = spawnRTLTCP(addr, cfg.Device, cfg.SampleRate); err != nil {
			return nil, err
		}
		tries = 50
	}
	sdr, err := connect(ctx, addr, tries)
	if err != nil {
		if proc != nil {
			proc.Close()
		}
		return nil, err
	}
	sdr.proc = proc
	logging.Info("connected to rtl_tcp", logging.Fields{
		logging.FieldAddr: addr,
		"tuner":           sdr.Info.Tuner,
		"gains":           sdr.Info.GainCount,
	})
	return sdr, nil
}

func (sdr *rtlTCP) do(cmd uint8, v uint32) error {
	sdr.wmu.Lock()
	defer sdr.wmu.Unlock()
	return binary.Write(sdr.conn, binary.BigEndian, command{cmd, v})
}

// Set the center frequency in Hz.
func (sdr *rtlTCP) SetCenterFreq(freq uint32) error {
	return sdr.do(centerFreq, freq)
}

// Set the sample rate in Hz.
func (sdr *rtlTCP) SetSampleRate(rate uint32) error {
	return sdr.do(sampleRate, rate)
}

func (sdr *rtlTCP) SetGain(g Gain) error {
	if g.Auto {
		return sdr.do(tunerGainMode, 0)
	}
	if err := sdr.do(tunerGainMode, 1); err != nil {
		return err
	}
	return sdr.do(tunerGain, uint32(int32(g.TenthsDB)))
}

// Set frequency correction in ppm. Negative values go out two's complement.
func (sdr *rtlTCP) SetFreqCorrection(ppm int) error {
	return sdr.do(freqCorrection, uint32(int32(ppm)))
}

// Direct sampling uses the Q branch.
func (sdr *rtlTCP) SetDirectSampling(on bool) error {
	if on {
		return sdr.do(directSampling, 2)
	}
	return sdr.do(directSampling, 0)
}

// The server streams continuously; there is no buffer to reset.
func (sdr *rtlTCP) ResetBuffer() error { return nil }

func (sdr *rtlTCP) ReadSync(buf []byte) (int, error) {
	if sdr.cancelled.Load() {
		return 0, os.ErrDeadlineExceeded
	}
	n, err := io.ReadFull(sdr.conn, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// The caller sees the short count and reports it.
		return n, nil
	}
	return n, err
}

func (sdr *rtlTCP) ReadAsync(cb func([]byte), buffers int, transferUnit uint32) error {
	buf := make([]byte, transferUnit)
	for !sdr.cancelled.Load() {
		if _, err := io.ReadFull(sdr.conn, buf); err != nil {
			if sdr.cancelled.Load() {
				return nil
			}
			return err
		}
		cb(buf)
	}
	return nil
}

// CancelAsync unblocks any pending read by expiring the read deadline.
func (sdr *rtlTCP) CancelAsync() error {
	sdr.cancelled.Store(true)
	return sdr.conn.SetReadDeadline(time.Now())
}

func (sdr *rtlTCP) Close() error {
	err := sdr.conn.Close()
	if sdr.proc != nil {
		if perr := sdr.proc.Close(); err == nil {
			err = perr
		}
	}
	return err
}
