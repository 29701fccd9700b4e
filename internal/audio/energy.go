package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of 16-bit little-endian mono PCM.
// Large buffers are sampled sparsely.
func RMS(pcm []byte) float64 {
	step := 1
	if len(pcm) > 3200 {
		step = 2
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(count))
}

// MulawRMS decodes a mu-law chunk and returns its energy.
func MulawRMS(mulaw []byte) float64 {
	return RMS(DecodeMulaw(mulaw))
}
