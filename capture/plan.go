package capture

import "fmt"

const (
	// SampleWidth is the size of one interleaved u8 I/Q sample.
	SampleWidth = 2

	// DefaultTransferUnit is used when no block alignment is needed.
	DefaultTransferUnit = 16 * 16384
	// DefaultTransferCap bounds the transfer unit in 2-frequency mode so at most
	// one small transfer of stale samples is in flight after a retune.
	DefaultTransferCap = 16384

	MinTransferUnit = 512
	MaxTransferUnit = 256 * 16384
)

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// PlanTransferUnit derives the hardware transfer size from the per-channel
// block sizes in bytes. With two blocks the result divides both, so every
// delivered chunk ends inside a block or exactly on its boundary.
func PlanTransferUnit(blockBytes []uint32, capBytes uint32) (uint32, error) {
	if capBytes == 0 {
		capBytes = DefaultTransferCap
	}
	if len(blockBytes) > 2 {
		return 0, ErrTooManyChannels
	}
	for _, b := range blockBytes {
		if b == 0 {
			return 0, ErrZeroBlock
		}
		if b%SampleWidth != 0 {
			return 0, fmt.Errorf("%w: %d bytes", ErrSampleAlignment, b)
		}
	}

	var unit uint32
	switch {
	case len(blockBytes) < 2:
		return DefaultTransferUnit, nil
	case blockBytes[0] == blockBytes[1]:
		unit = blockBytes[0]
		if unit > capBytes {
			unit = gcd(unit, capBytes)
		}
	default:
		unit = gcd(gcd(blockBytes[0], blockBytes[1]), capBytes)
	}
	if err := checkTransferUnit(unit); err != nil {
		return 0, err
	}
	return unit, nil
}

func checkTransferUnit(unit uint32) error {
	if unit < MinTransferUnit {
		return fmt.Errorf("%w: %d < %d bytes", ErrTransferTooSmall, unit, MinTransferUnit)
	}
	if unit%MinTransferUnit != 0 {
		return fmt.Errorf("%w: got %d", ErrTransferUnaligned, unit)
	}
	return nil
}

func inTransferRange(unit uint32) bool {
	return unit >= MinTransferUnit && unit <= MaxTransferUnit
}
