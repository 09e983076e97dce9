package capture

// Channel is one of the two alternating tunings.
type Channel struct {
	ID          int    `json:"id"`
	FrequencyHz uint32 `json:"frequency_hz"`
	BlockBytes  uint32 `json:"block_bytes"`
}

// Scheduler does block accounting for the active channel. It is owned by the
// delivery context and is not safe for concurrent use.
type Scheduler struct {
	channels [2]Channel
	enabled  bool

	active  int
	inBlock uint32
}

// NewScheduler returns a scheduler over exactly two channels, or a disabled
// scheduler when chs is empty.
func NewScheduler(chs []Channel) *Scheduler {
	s := &Scheduler{}
	if len(chs) == 2 {
		s.enabled = true
		copy(s.channels[:], chs)
	}
	return s
}

func (s *Scheduler) Enabled() bool { return s.enabled }

// Active returns the channel currently receiving samples.
func (s *Scheduler) Active() Channel { return s.channels[s.active] }

// Delivered accounts n bytes into the current block. When the block completes
// the active channel flips and the new channel's frequency is returned.
func (s *Scheduler) Delivered(n uint32) (freqHz uint32, switched bool) {
	if !s.enabled {
		return 0, false
	}
	s.inBlock += n
	if s.inBlock < s.channels[s.active].BlockBytes {
		return 0, false
	}
	s.inBlock = 0
	s.active ^= 1
	return s.channels[s.active].FrequencyHz, true
}
