// Package audio captures microphone input and plays back spoken responses
// as 16-bit little-endian mono PCM.
package audio

import (
	"encoding/binary"
	"math"
)

// BytesPerSample is the width of one PCM16 sample on the wire.
const BytesPerSample = 2

// Float32ToPCM16 converts normalized float samples to little-endian PCM16.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// RMS returns the root-mean-square level of little-endian PCM16 audio,
// normalized to [0, 1]. Odd trailing bytes are ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / math.MaxInt16
}

// Downsample reduces the sample rate of PCM16 audio by plain decimation.
// Rates must divide evenly; anything else returns the input unchanged.
func Downsample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= dstRate || dstRate <= 0 || srcRate%dstRate != 0 {
		return pcm
	}
	step := srcRate / dstRate
	n := len(pcm) / BytesPerSample
	out := make([]byte, 0, (n/step+1)*BytesPerSample)
	for i := 0; i < n; i += step {
		out = append(out, pcm[i*2], pcm[i*2+1])
	}
	return out
}
