package audio

import "math"

// Resample converts mono PCM16 bytes from srcRate to dstRate using linear
// interpolation. Output holds floor(n*dstRate/srcRate) samples. The input is
// returned unchanged when the rates match or either rate is not positive.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	n := len(pcm) / 2
	outLen := int(int64(n) * int64(dstRate) / int64(srcRate))
	out := make([]byte, outLen*2)
	if n == 0 {
		return out
	}

	last := n - 1
	sample := func(i int) float64 {
		return float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	step := float64(srcRate) / float64(dstRate)
	for j := 0; j < outLen; j++ {
		pos := float64(j) * step
		i0 := int(pos)
		if i0 > last {
			i0 = last
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		frac := pos - float64(i0)
		s0 := sample(i0)
		v := math.Round(s0 + (sample(i1)-s0)*frac)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		u := uint16(int16(v))
		out[j*2] = byte(u)
		out[j*2+1] = byte(u >> 8)
	}
	return out
}
