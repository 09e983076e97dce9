package radio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"github.com/kr/pty"

	"github.com/chzchzchz/duocap/logging"
)

// rtlTCPProcess is an rtl_tcp server started for the session. Its console
// goes to stderr so stdout stays free for samples.
type rtlTCPProcess struct {
	cmd  *exec.Cmd
	fpty *os.File
}

func spawnRTLTCP(addr, device string, rate uint32) (*rtlTCPProcess, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if device == "" {
		device = "0"
	}
	if rate == 0 {
		rate = DefaultSampleRate
	}
	cmd := exec.Command("rtl_tcp", "-a", host, "-p", port, "-d", device, "-s", fmt.Sprint(rate))
	fpty, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start rtl_tcp: %w", err)
	}
	go io.Copy(os.Stderr, fpty)
	logging.Info("started rtl_tcp", logging.Fields{
		logging.FieldAddr:   addr,
		logging.FieldDevice: device,
		"pid":               cmd.Process.Pid,
	})
	return &rtlTCPProcess{cmd: cmd, fpty: fpty}, nil
}

// Close hangs up the pty and waits for the server to exit.
func (p *rtlTCPProcess) Close() error {
	p.fpty.Close()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
