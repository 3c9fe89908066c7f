// Package dsp converts fixed-size windows of PCM samples into compact
// feature vectors used for pattern matching. Extraction is deterministic
// and amplitude invariant so detection works regardless of the playback
// volume at capture time.
package dsp

import (
	"math"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
)

// NumBands is the dimension of every feature vector produced by the system.
// All vectors share this dimension so they are directly comparable.
const NumBands = 16

// FeatureVector summarizes one analysis window as normalized energies in
// log-spaced frequency bands. For non-silent windows the band energies sum
// to 1. Silent windows carry the sentinel flag and an all-zero band vector,
// which never scores above threshold against any pattern.
type FeatureVector struct {
	Bands  [NumBands]float64
	RMS    float64
	Silent bool
}

// Extractor converts raw sample windows into feature vectors. It is
// stateless apart from precomputed window coefficients and band edges,
// and safe for concurrent use.
type Extractor struct {
	windowSize       int
	silenceThreshold float64
	hann             []float64
	bandEdges        [NumBands + 1]int
}

// NewExtractor creates an extractor for the given window size in samples.
// windowSize must be a power of two.
func NewExtractor(windowSize int, silenceThreshold float64) (*Extractor, error) {
	if windowSize <= 0 || windowSize&(windowSize-1) != 0 {
		return nil, errors.Newf("window size must be a power of two, got %d", windowSize).
			Component("dsp").
			Category(errors.CategoryValidation).
			Build()
	}
	// The usable bins above DC must outnumber the bands, otherwise the
	// forced one-bin increments exhaust the spectrum and leave the top
	// band permanently empty.
	if windowSize/2 <= NumBands {
		return nil, errors.Newf("window size %d too small for %d bands", windowSize, NumBands).
			Component("dsp").
			Category(errors.CategoryValidation).
			Build()
	}

	e := &Extractor{
		windowSize:       windowSize,
		silenceThreshold: silenceThreshold,
		hann:             make([]float64, windowSize),
	}

	for i := range e.hann {
		e.hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(windowSize-1)))
	}

	e.computeBandEdges()
	return e, nil
}

// WindowSize returns the number of samples consumed per extraction.
func (e *Extractor) WindowSize() int {
	return e.windowSize
}

// computeBandEdges lays out NumBands log-spaced bands over the usable
// spectrum bins [1, windowSize/2]. Bin 0 (DC) is excluded.
func (e *Extractor) computeBandEdges() {
	lo := 1.0
	hi := float64(e.windowSize / 2)
	ratio := math.Pow(hi/lo, 1.0/float64(NumBands))

	edge := lo
	e.bandEdges[0] = 1
	for i := 1; i <= NumBands; i++ {
		edge *= ratio
		bin := int(math.Round(edge))
		// Each band must span at least one bin
		if bin <= e.bandEdges[i-1] {
			bin = e.bandEdges[i-1] + 1
		}
		e.bandEdges[i] = bin
	}
	e.bandEdges[NumBands] = e.windowSize / 2
}

// Extract converts one window of mono float samples into a feature vector.
// The input length must equal WindowSize. Same input always produces the
// same vector.
func (e *Extractor) Extract(samples []float32) (FeatureVector, error) {
	if len(samples) != e.windowSize {
		return FeatureVector{}, errors.Newf("expected %d samples, got %d", e.windowSize, len(samples)).
			Component("dsp").
			Category(errors.CategoryAudio).
			Build()
	}

	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))

	// Dead air gets the sentinel vector so it can never pass the match
	// threshold against a quiet reference clip.
	if rms < e.silenceThreshold {
		return FeatureVector{RMS: rms, Silent: true}, nil
	}

	windowed := make([]float64, e.windowSize)
	for i, s := range samples {
		windowed[i] = float64(s) * e.hann[i]
	}

	mags := Magnitudes(FFT(windowed))

	var fv FeatureVector
	fv.RMS = rms

	var total float64
	for band := 0; band < NumBands; band++ {
		var energy float64
		for bin := e.bandEdges[band]; bin < e.bandEdges[band+1]; bin++ {
			energy += mags[bin] * mags[bin]
		}
		fv.Bands[band] = energy
		total += energy
	}

	// Normalize by total energy for amplitude invariance. A window that is
	// above the silence threshold but has no spectral energy (should not
	// happen in practice) degrades to the silence sentinel.
	if total <= 0 {
		return FeatureVector{RMS: rms, Silent: true}, nil
	}
	for band := 0; band < NumBands; band++ {
		fv.Bands[band] /= total
	}

	return fv, nil
}

// ExtractSeries splits samples into consecutive non-overlapping windows and
// extracts a feature vector per window. Trailing samples shorter than one
// window are dropped. Used at pattern load and record time.
func (e *Extractor) ExtractSeries(samples []float32) ([]FeatureVector, error) {
	count := len(samples) / e.windowSize
	if count == 0 {
		return nil, errors.Newf("recording shorter than one analysis window (%d samples)", e.windowSize).
			Component("dsp").
			Category(errors.CategoryAudio).
			Build()
	}

	features := make([]FeatureVector, 0, count)
	for i := 0; i < count; i++ {
		fv, err := e.Extract(samples[i*e.windowSize : (i+1)*e.windowSize])
		if err != nil {
			return nil, err
		}
		features = append(features, fv)
	}
	return features, nil
}
