package radio

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrBadHz = errors.New("bad frequency")

// ParseHz parses a value in Hz with an optional k, M or G suffix, for
// example "100M", "1090k" or "2.048e6".
func ParseHz(s string) (uint32, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadHz)
	}
	mult := 1.0
	switch v[len(v)-1] {
	case 'k', 'K':
		mult = 1e3
	case 'm', 'M':
		mult = 1e6
	case 'g', 'G':
		mult = 1e9
	}
	if mult != 1.0 {
		v = v[:len(v)-1]
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadHz, s)
	}
	hz := math.Round(f * mult)
	if hz < 0 || hz > math.MaxUint32 || math.IsNaN(hz) {
		return 0, fmt.Errorf("%w: %q out of range", ErrBadHz, s)
	}
	return uint32(hz), nil
}
