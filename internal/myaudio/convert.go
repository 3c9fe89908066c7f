package myaudio

import (
	"encoding/binary"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
)

// S16LEToMonoFloat32 converts interleaved signed 16-bit little-endian PCM
// into mono float32 samples in [-1, 1]. Multi-channel input is downmixed by
// averaging the channels of each frame.
func S16LEToMonoFloat32(pcm []byte, channels int) ([]float32, error) {
	if channels < 1 {
		return nil, errors.Newf("invalid channel count: %d", channels).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	frameBytes := channels * 2
	if len(pcm)%frameBytes != 0 {
		return nil, errors.Newf("PCM data length %d is not a whole number of %d-channel frames", len(pcm), channels).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Build()
	}

	frames := len(pcm) / frameBytes
	samples := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := f*frameBytes + c*2
			s := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
			sum += float64(s) / 32768.0
		}
		samples[f] = float32(sum / float64(channels))
	}
	return samples, nil
}

// Float32ToS16LE converts mono float32 samples in [-1, 1] into signed
// 16-bit little-endian PCM, clamping out-of-range values.
func Float32ToS16LE(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}
