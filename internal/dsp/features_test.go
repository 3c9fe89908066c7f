package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 1024

func sineWindow(freq, amplitude float64, sampleRate, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return samples
}

func TestNewExtractor_RejectsBadWindowSize(t *testing.T) {
	_, err := NewExtractor(1000, 0.01)
	assert.Error(t, err, "non power of two window must be rejected")

	_, err = NewExtractor(0, 0.01)
	assert.Error(t, err)

	_, err = NewExtractor(16, 0.01)
	assert.Error(t, err, "window without enough spectrum bins must be rejected")

	_, err = NewExtractor(2*NumBands, 0.01)
	assert.Error(t, err, "a window whose bins only just cover the bands leaves the top band empty")
}

func TestNewExtractor_MinimumWindowHasNonEmptyBands(t *testing.T) {
	e, err := NewExtractor(4*NumBands, 0.01)
	require.NoError(t, err)

	for i := 0; i < NumBands; i++ {
		assert.Less(t, e.bandEdges[i], e.bandEdges[i+1],
			"band %d must span at least one bin", i)
	}
	assert.Equal(t, e.windowSize/2, e.bandEdges[NumBands])
}

func TestExtract_Deterministic(t *testing.T) {
	e, err := NewExtractor(testWindow, 0.01)
	require.NoError(t, err)

	samples := sineWindow(1000, 0.5, 44100, testWindow)

	a, err := e.Extract(samples)
	require.NoError(t, err)
	b, err := e.Extract(samples)
	require.NoError(t, err)

	assert.Equal(t, a, b, "identical input must produce identical vectors")
}

func TestExtract_SilenceSentinel(t *testing.T) {
	e, err := NewExtractor(testWindow, 0.01)
	require.NoError(t, err)

	silent := make([]float32, testWindow)
	fv, err := e.Extract(silent)
	require.NoError(t, err)

	assert.True(t, fv.Silent)
	for _, b := range fv.Bands {
		assert.Zero(t, b, "silence sentinel carries an all-zero band vector")
	}

	// Just below the threshold also counts as silence
	quiet := sineWindow(1000, 0.005, 44100, testWindow)
	fv, err = e.Extract(quiet)
	require.NoError(t, err)
	assert.True(t, fv.Silent)
}

func TestExtract_AmplitudeInvariance(t *testing.T) {
	e, err := NewExtractor(testWindow, 0.001)
	require.NoError(t, err)

	loud, err := e.Extract(sineWindow(2000, 0.9, 44100, testWindow))
	require.NoError(t, err)
	quiet, err := e.Extract(sineWindow(2000, 0.05, 44100, testWindow))
	require.NoError(t, err)

	require.False(t, loud.Silent)
	require.False(t, quiet.Silent)
	for i := range loud.Bands {
		assert.InDelta(t, loud.Bands[i], quiet.Bands[i], 1e-6,
			"band %d should not depend on amplitude", i)
	}
}

func TestExtract_BandsNormalized(t *testing.T) {
	e, err := NewExtractor(testWindow, 0.01)
	require.NoError(t, err)

	fv, err := e.Extract(sineWindow(440, 0.8, 44100, testWindow))
	require.NoError(t, err)
	require.False(t, fv.Silent)

	var sum float64
	for _, b := range fv.Bands {
		assert.GreaterOrEqual(t, b, 0.0)
		sum += b
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "non-silent band energies must sum to 1")
}

func TestExtract_DistinguishesFrequencies(t *testing.T) {
	e, err := NewExtractor(testWindow, 0.01)
	require.NoError(t, err)

	low, err := e.Extract(sineWindow(200, 0.8, 44100, testWindow))
	require.NoError(t, err)
	high, err := e.Extract(sineWindow(8000, 0.8, 44100, testWindow))
	require.NoError(t, err)

	// The dominant band must differ between a low and a high tone
	argmax := func(fv FeatureVector) int {
		best := 0
		for i, b := range fv.Bands {
			if b > fv.Bands[best] {
				best = i
			}
		}
		return best
	}
	assert.NotEqual(t, argmax(low), argmax(high))
}

func TestExtract_WrongLength(t *testing.T) {
	e, err := NewExtractor(testWindow, 0.01)
	require.NoError(t, err)

	_, err = e.Extract(make([]float32, testWindow/2))
	assert.Error(t, err)
}

func TestExtractSeries(t *testing.T) {
	e, err := NewExtractor(testWindow, 0.01)
	require.NoError(t, err)

	// Three full windows plus a partial tail
	samples := sineWindow(1000, 0.5, 44100, testWindow*3+100)
	series, err := e.ExtractSeries(samples)
	require.NoError(t, err)
	assert.Len(t, series, 3, "partial trailing window is dropped")

	_, err = e.ExtractSeries(make([]float32, testWindow-1))
	assert.Error(t, err, "input shorter than one window must fail")
}

func TestFFT_PureToneBin(t *testing.T) {
	const n = 1024
	const sampleRate = 44100.0
	// Pick a frequency aligned to a bin so leakage is minimal
	bin := 64
	freq := float64(bin) * sampleRate / n

	input := make([]float64, n)
	for i := range input {
		input[i] = math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
	}

	mags := Magnitudes(FFT(input))

	peak := 0
	for i := 1; i < len(mags); i++ {
		if mags[i] > mags[peak] {
			peak = i
		}
	}
	assert.Equal(t, bin, peak, "spectral peak must land on the tone's bin")
}
