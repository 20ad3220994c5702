package audio

import "strings"

// IsG711 reports whether format names a companded G.711 variant.
func IsG711(format string) bool {
	switch strings.ToLower(format) {
	case "g711_ulaw", "g711_alaw":
		return true
	}
	return false
}

// DecodeG711 expands μ-law or A-law bytes to PCM16 at the same rate. ok is
// false for any other format.
func DecodeG711(format string, data []byte) (pcm []byte, ok bool) {
	var dec func(byte) int16
	switch strings.ToLower(format) {
	case "g711_ulaw":
		dec = ulawToLinear
	case "g711_alaw":
		dec = alawToLinear
	default:
		return nil, false
	}
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = dec(b)
	}
	return SamplesToBytes(samples), true
}

func ulawToLinear(u byte) int16 {
	const bias = 0x84
	u = ^u
	t := (int(u&0x0F)<<3 + bias) << ((u & 0x70) >> 4)
	if u&0x80 != 0 {
		return int16(bias - t)
	}
	return int16(t - bias)
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	switch seg := (a & 0x70) >> 4; seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}
