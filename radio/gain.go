package radio

// nearestGain returns the entry of gains closest to want. gains holds
// tenths of a dB as reported by the tuner; an empty list returns want.
func nearestGain(gains []int, want int) int {
	if len(gains) == 0 {
		return want
	}
	best := gains[0]
	for _, g := range gains[1:] {
		if abs(g-want) < abs(best-want) {
			best = g
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
