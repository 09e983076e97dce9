package radio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// fakeRTLTCP accepts one client, sends the dongle header and records
// every command it receives.
type fakeRTLTCP struct {
	ln    net.Listener
	cmdc  chan [5]byte
	connc chan net.Conn
}

func newFakeRTLTCP(t *testing.T, magic string) *fakeRTLTCP {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeRTLTCP{ln: ln, cmdc: make(chan [5]byte, 16), connc: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		hdr := make([]byte, 12)
		copy(hdr, magic)
		binary.BigEndian.PutUint32(hdr[4:], 5)
		binary.BigEndian.PutUint32(hdr[8:], 29)
		conn.Write(hdr)
		f.connc <- conn
		for {
			var cmd [5]byte
			if _, err := io.ReadFull(conn, cmd[:]); err != nil {
				return
			}
			f.cmdc <- cmd
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeRTLTCP) addr() string { return f.ln.Addr().String() }

func (f *fakeRTLTCP) conn(t *testing.T) net.Conn {
	select {
	case c := <-f.connc:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
	}
	return nil
}

func (f *fakeRTLTCP) expect(t *testing.T, cmd uint8, param uint32) {
	t.Helper()
	var want [5]byte
	want[0] = cmd
	binary.BigEndian.PutUint32(want[1:], param)
	select {
	case got := <-f.cmdc:
		if got != want {
			t.Fatalf("expected command %v, got %v", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for command %d", cmd)
	}
}

func TestRTLTCPCommands(t *testing.T) {
	srv := newFakeRTLTCP(t, "RTL0")
	dev, err := Open(context.TODO(), DeviceConfig{Backend: BackendRTLTCP, Addr: srv.addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	srv.conn(t)

	sdr := dev.(*rtlTCP)
	if sdr.Info.Tuner != 5 || sdr.Info.GainCount != 29 {
		t.Fatalf("unexpected dongle info %+v", sdr.Info)
	}

	if err := dev.SetCenterFreq(100000000); err != nil {
		t.Fatal(err)
	}
	srv.expect(t, centerFreq, 100000000)
	if err := dev.SetFreqCorrection(-3); err != nil {
		t.Fatal(err)
	}
	srv.expect(t, freqCorrection, 0xfffffffd)
	if err := dev.SetGain(AutoGain); err != nil {
		t.Fatal(err)
	}
	srv.expect(t, tunerGainMode, 0)
	if err := dev.SetGain(GainDB(19.7)); err != nil {
		t.Fatal(err)
	}
	srv.expect(t, tunerGainMode, 1)
	srv.expect(t, tunerGain, 197)
	if err := dev.SetDirectSampling(true); err != nil {
		t.Fatal(err)
	}
	srv.expect(t, directSampling, 2)
}

func TestRTLTCPSetupOrder(t *testing.T) {
	srv := newFakeRTLTCP(t, "RTL0")
	dev, err := Open(context.TODO(), DeviceConfig{Backend: BackendRTLTCP, Addr: srv.addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	srv.conn(t)

	cfg := DeviceConfig{SampleRate: 2400000, Gain: GainDB(40), PPM: 12, DirectSampling: true}
	if err := Setup(dev, cfg); err != nil {
		t.Fatal(err)
	}
	srv.expect(t, directSampling, 2)
	srv.expect(t, sampleRate, 2400000)
	srv.expect(t, tunerGainMode, 1)
	srv.expect(t, tunerGain, 400)
	srv.expect(t, freqCorrection, 12)
}

func TestRTLTCPReadAsync(t *testing.T) {
	srv := newFakeRTLTCP(t, "RTL0")
	dev, err := Open(context.TODO(), DeviceConfig{Backend: BackendRTLTCP, Addr: srv.addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	conn := srv.conn(t)

	samples := bytes.Repeat([]byte{127, 128}, 1024)
	go conn.Write(samples)

	var got []byte
	errc := make(chan error, 1)
	go func() {
		errc <- dev.ReadAsync(func(b []byte) {
			got = append(got, b...)
			if len(got) == len(samples) {
				dev.CancelAsync()
			}
		}, 0, 512)
	}()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ReadAsync did not return after cancel")
	}
	if !bytes.Equal(got, samples) {
		t.Fatalf("expected %d sample bytes, got %d", len(samples), len(got))
	}
}

func TestRTLTCPCancelUnblocksRead(t *testing.T) {
	srv := newFakeRTLTCP(t, "RTL0")
	dev, err := Open(context.TODO(), DeviceConfig{Backend: BackendRTLTCP, Addr: srv.addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	srv.conn(t)

	errc := make(chan error, 1)
	go func() { errc <- dev.ReadAsync(func([]byte) {}, 0, 512) }()
	time.Sleep(50 * time.Millisecond)
	if err := dev.CancelAsync(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ReadAsync did not return after cancel")
	}
	if _, err := dev.ReadSync(make([]byte, 16)); err == nil {
		t.Fatal("expected ReadSync to fail after cancel")
	}
}

func TestRTLTCPBadMagic(t *testing.T) {
	srv := newFakeRTLTCP(t, "XXXX")
	_, err := Open(context.TODO(), DeviceConfig{Backend: BackendRTLTCP, Addr: srv.addr()})
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestSetupBadRate(t *testing.T) {
	if err := Setup(nil, DeviceConfig{SampleRate: 24000}); !errors.Is(err, ErrRateOutOfRange) {
		t.Fatalf("expected ErrRateOutOfRange, got %v", err)
	}
	for _, rate := range []uint32{250000, DefaultSampleRate, 3200000} {
		if err := CheckSampleRate(rate); err != nil {
			t.Errorf("CheckSampleRate(%d): %v", rate, err)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.TODO(), DeviceConfig{Backend: "hackrf"}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestRTLTCPReadSyncPartial(t *testing.T) {
	srv := newFakeRTLTCP(t, "RTL0")
	dev, err := Open(context.TODO(), DeviceConfig{Backend: BackendRTLTCP, Addr: srv.addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	conn := srv.conn(t)
	conn.Write(bytes.Repeat([]byte{127}, 10))
	conn.Close()

	n, err := dev.ReadSync(make([]byte, 16))
	if err != nil {
		t.Fatalf("expected partial read without error, got %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
	if _, err := dev.ReadSync(make([]byte, 16)); err == nil {
		t.Fatal("expected error once the server is gone")
	}
}
