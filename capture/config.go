package capture

import (
	"fmt"
	"math"

	"github.com/chzchzchz/duocap/logging"
)

const DefaultFrequencyHz = 100000000

// Config is the user-facing description of a capture.
type Config struct {
	// FrequenciesHz holds one or two frequencies; a second enables
	// 2-frequency mode. Empty means DefaultFrequencyHz.
	FrequenciesHz []uint32
	// BlockSamples is the total sample count in single-frequency mode, or the
	// per-channel block length in 2-frequency mode (second mirrors first).
	BlockSamples []uint32
	// TransferUnit overrides the planned transfer size when non-zero.
	TransferUnit uint32
	// TransferCap bounds the planned transfer size; zero is DefaultTransferCap.
	TransferCap uint32
	// Buffers is the async buffer count; zero lets the driver choose.
	Buffers int
	Sync    bool
}

// Plan is the resolved, immutable description a Session runs from.
type Plan struct {
	Channels     []Channel `json:"channels,omitempty"`
	InitialHz    uint32    `json:"initial_hz"`
	Budget       uint64    `json:"budget_bytes"`
	TransferUnit uint32    `json:"transfer_unit"`
	Buffers      int       `json:"buffers"`
	Sync         bool      `json:"sync"`
}

func (p Plan) TwoFrequency() bool { return len(p.Channels) == 2 }

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func samplesToBytes(n uint32) (uint32, error) {
	if uint64(n)*SampleWidth > math.MaxUint32 {
		return 0, configErr("block of %d samples overflows", n)
	}
	return n * SampleWidth, nil
}

// Plan validates the configuration and derives the channels, budget and
// transfer unit. All failures wrap ErrConfig.
func (c Config) Plan() (Plan, error) {
	p := Plan{Buffers: c.Buffers, Sync: c.Sync, InitialHz: DefaultFrequencyHz}
	if len(c.FrequenciesHz) > 2 {
		return Plan{}, configErr("at most two frequencies are supported, got %d", len(c.FrequenciesHz))
	}
	if len(c.BlockSamples) > 2 {
		return Plan{}, configErr("at most two sample counts are supported, got %d", len(c.BlockSamples))
	}
	if c.Buffers < 0 {
		return Plan{}, configErr("buffer count must not be negative")
	}
	if c.TransferCap != 0 && (!inTransferRange(c.TransferCap) || c.TransferCap%MinTransferUnit != 0) {
		return Plan{}, configErr("transfer cap %d must be a multiple of %d in [%d, %d]",
			c.TransferCap, MinTransferUnit, MinTransferUnit, MaxTransferUnit)
	}
	if len(c.FrequenciesHz) > 0 {
		p.InitialHz = c.FrequenciesHz[0]
	}

	var blocks []uint32
	if len(c.FrequenciesHz) == 2 {
		if len(c.BlockSamples) == 0 {
			return Plan{}, configErr("samples per block are required in 2-frequency mode")
		}
		samples := []uint32{c.BlockSamples[0], c.BlockSamples[0]}
		if len(c.BlockSamples) == 2 {
			samples[1] = c.BlockSamples[1]
		}
		for i, n := range samples {
			if n == 0 {
				return Plan{}, fmt.Errorf("%w: channel %d: %w", ErrConfig, i, ErrZeroBlock)
			}
			b, err := samplesToBytes(n)
			if err != nil {
				return Plan{}, err
			}
			blocks = append(blocks, b)
			p.Channels = append(p.Channels, Channel{ID: i, FrequencyHz: c.FrequenciesHz[i], BlockBytes: b})
		}
	} else {
		switch len(c.BlockSamples) {
		case 2:
			return Plan{}, configErr("a second sample count needs a second frequency")
		case 1:
			p.Budget = uint64(c.BlockSamples[0]) * SampleWidth
		}
	}

	unit, err := PlanTransferUnit(blocks, c.TransferCap)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.TransferUnit != 0 {
		if !inTransferRange(c.TransferUnit) {
			logging.Warn("transfer unit out of range, falling back", logging.Fields{
				logging.FieldTransfer: c.TransferUnit,
				"min":                 MinTransferUnit,
				"max":                 MaxTransferUnit,
				"using":               unit,
			})
		} else if err := checkTransferUnit(c.TransferUnit); err != nil {
			return Plan{}, fmt.Errorf("%w: %w", ErrConfig, err)
		} else {
			unit = c.TransferUnit
		}
	}
	for _, ch := range p.Channels {
		if ch.BlockBytes%unit != 0 {
			return Plan{}, fmt.Errorf("%w: %w: channel %d block %d bytes, transfer unit %d",
				ErrConfig, ErrBlockAlignment, ch.ID, ch.BlockBytes, unit)
		}
	}
	p.TransferUnit = unit
	return p, nil
}
