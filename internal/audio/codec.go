package audio

import "time"

const (
	// SampleRate is the telephony leg rate in Hz.
	SampleRate = 8000
	// FrameBytes is one 20ms mu-law frame at 8kHz.
	FrameBytes    = 160
	FrameDuration = 20 * time.Millisecond

	mulawBias = 33
	mulawClip = 0x1FFF
)

var mulawTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		mulawTable[i] = decodeSample(byte(i))
	}
}

func decodeSample(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := int32(u & 0x0F)
	s := ((mant << 3) + 0x84) << exp
	s -= 0x84
	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}

// DecodeMulaw expands G.711 mu-law bytes to 16-bit little-endian PCM at 8kHz.
// The output is always exactly twice the input length.
func DecodeMulaw(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := mulawTable[b]
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// EncodeMulaw converts 16-bit little-endian PCM at sampleRate to mu-law at 8kHz.
// Rates other than 8kHz are resampled by nearest neighbour; a trailing odd byte is ignored.
func EncodeMulaw(pcm []byte, sampleRate int) []byte {
	samples := pcmSamples(pcm)
	if sampleRate > 0 && sampleRate != SampleRate {
		samples = resample(samples, sampleRate, SampleRate)
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeSample(s)
	}
	return out
}

func encodeSample(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	// 16-bit to the 14-bit range the companding law is defined on.
	s >>= 2
	s += mulawBias
	if s > mulawClip {
		s = mulawClip
	}
	exp := segment(s)
	mant := byte((s >> (exp + 1)) & 0x0F)
	return ^(sign | byte(exp<<4) | mant)
}

func segment(v int32) int32 {
	var exp int32
	for limit := int32(0x3F); exp < 7 && v > limit; limit = limit<<1 | 1 {
		exp++
	}
	return exp
}

func pcmSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}

func resample(in []int16, from, to int) []int16 {
	if len(in) == 0 || from <= 0 || to <= 0 {
		return nil
	}
	n := len(in) * to / from
	out := make([]int16, n)
	for i := range out {
		idx := i * from / to
		if idx >= len(in) {
			idx = len(in) - 1
		}
		out[i] = in[idx]
	}
	return out
}

// MulawDuration reports the playback length of n mu-law bytes at 8kHz.
func MulawDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// PCMDuration reports the playback length of n bytes of 16-bit mono PCM.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}
