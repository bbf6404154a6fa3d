package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square energy of little-endian PCM16 data,
// normalised to [0, 1] against full scale. Odd trailing bytes are ignored.
// An empty buffer has zero energy.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// EnergyPercent maps a normalised RMS value to the 0–100 scale used to
// drive animation intensity. Values at or above full scale clamp to 100.
func EnergyPercent(rms float64) int {
	p := int(math.Floor(rms * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
