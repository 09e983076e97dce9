package capture

import (
	"fmt"
	"io"
	"os"
)

type stdoutSink struct{ io.Writer }

func (stdoutSink) Close() error { return nil }

// OpenSink opens the output stream. "-" writes to stdout, which is left open
// on Close; anything else is created or truncated.
func OpenSink(path string) (io.WriteCloser, error) {
	if path == "-" {
		return stdoutSink{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open output: %v", ErrIO, err)
	}
	return f, nil
}
