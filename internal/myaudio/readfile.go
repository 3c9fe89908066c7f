package myaudio

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
)

// AudioInfo summarizes a decoded audio file.
type AudioInfo struct {
	SampleRate   int
	TotalSamples int
	NumChannels  int
	BitDepth     int
}

// readWAVInfo validates the WAV header and returns the file's format info.
func readWAVInfo(file *os.File) (AudioInfo, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		return AudioInfo{}, fmt.Errorf("invalid WAV file format")
	}

	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return AudioInfo{}, fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth)
	}

	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return AudioInfo{}, fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		return AudioInfo{}, err
	}

	bytesPerSample := int(decoder.BitDepth / 8)
	totalSamples := int(fileInfo.Size()) / bytesPerSample / int(decoder.NumChans)

	return AudioInfo{
		SampleRate:   int(decoder.SampleRate),
		TotalSamples: totalSamples,
		NumChannels:  int(decoder.NumChans),
		BitDepth:     int(decoder.BitDepth),
	}, nil
}

// getAudioDivisor returns the normalization divisor for a given bit depth.
func getAudioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// ReadWAVFile decodes a WAV file into mono float32 samples in [-1, 1].
// Stereo files are downmixed by averaging. The file's format info is
// returned alongside so callers can validate rate and channels against
// their configuration.
func ReadWAVFile(filePath string) ([]float32, AudioInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, AudioInfo{}, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			FileContext(filePath, 0).
			Build()
	}
	defer file.Close()

	info, err := readWAVInfo(file)
	if err != nil {
		return nil, AudioInfo{}, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			FileContext(filePath, 0).
			Build()
	}

	// Rewind after header inspection so decoding starts at the beginning
	if _, err := file.Seek(0, 0); err != nil {
		return nil, AudioInfo{}, err
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	divisor, err := getAudioDivisor(info.BitDepth)
	if err != nil {
		return nil, AudioInfo{}, err
	}

	const readBufferSize = 262144
	buf := &audio.IntBuffer{
		Data:   make([]int, readBufferSize),
		Format: &audio.Format{SampleRate: info.SampleRate, NumChannels: info.NumChannels},
	}

	var samples []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, AudioInfo{}, errors.New(err).
				Component("myaudio").
				Category(errors.CategoryFileIO).
				FileContext(filePath, 0).
				Build()
		}
		if n == 0 {
			break
		}

		data := buf.Data[:n]
		if info.NumChannels == 2 {
			for i := 0; i+1 < len(data); i += 2 {
				left := float32(data[i]) / divisor
				right := float32(data[i+1]) / divisor
				samples = append(samples, (left+right)/2)
			}
		} else {
			for _, sample := range data {
				samples = append(samples, float32(sample)/divisor)
			}
		}
	}

	if len(samples) == 0 {
		return nil, AudioInfo{}, errors.Newf("WAV file contains no audio data").
			Component("myaudio").
			Category(errors.CategoryFileIO).
			FileContext(filePath, 0).
			Build()
	}

	return samples, info, nil
}
