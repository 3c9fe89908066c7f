package pattern

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
)

const (
	testRate  = 44100
	testChunk = 256
)

func storeTestSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Audio.SampleRate = testRate
	s.Audio.Channels = 1
	s.Audio.ChunkSize = testChunk
	s.Detection.SilenceThreshold = 0.01
	return s
}

func writeTestWAV(t *testing.T, dir, name string, seconds float64, sampleRate int) string {
	t.Helper()

	n := int(seconds * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*880*float64(i)/float64(sampleRate)))
	}

	path := filepath.Join(dir, name)
	require.NoError(t, myaudio.SavePCMDataToWAV(path, myaudio.Float32ToS16LE(samples), sampleRate, 1))
	return path
}

func newTestExtractor(t *testing.T) *dsp.Extractor {
	t.Helper()
	e, err := dsp.NewExtractor(testChunk, 0.01)
	require.NoError(t, err)
	return e
}

func TestStore_Load(t *testing.T) {
	dir := t.TempDir()
	writeTestWAV(t, dir, "cm_b.wav", 0.5, testRate)
	writeTestWAV(t, dir, "cm_a.wav", 1.0, testRate)

	store := NewStore()
	require.NoError(t, store.Load(dir, newTestExtractor(t), storeTestSettings()))

	require.Equal(t, 2, store.Len())
	patterns := store.All()
	// Sorted by filename for deterministic ordering
	assert.Equal(t, "cm_a", patterns[0].ID)
	assert.Equal(t, "cm_b", patterns[1].ID)
	assert.NotEmpty(t, patterns[0].Features)
	assert.Greater(t, patterns[0].Duration(), patterns[1].Duration())
}

func TestStore_LoadMissingDirectory(t *testing.T) {
	store := NewStore()
	err := store.Load(filepath.Join(t.TempDir(), "nope"), newTestExtractor(t), storeTestSettings())
	require.NoError(t, err, "missing directory is an empty catalogue, not an error")
	assert.Zero(t, store.Len())
}

func TestStore_LoadSkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeTestWAV(t, dir, "good.wav", 0.5, testRate)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("not a wav"), 0o644))

	store := NewStore()
	require.NoError(t, store.Load(dir, newTestExtractor(t), storeTestSettings()))
	assert.Equal(t, 1, store.Len(), "malformed file is skipped, not fatal")
}

func TestStore_LoadDownmixesStereo(t *testing.T) {
	dir := t.TempDir()
	writeTestWAV(t, dir, "mono.wav", 0.5, testRate)

	// The same signal on both channels, interleaved
	n := int(0.5 * float64(testRate))
	stereo := make([]float32, 0, 2*n)
	for i := 0; i < n; i++ {
		s := float32(0.5 * math.Sin(2*math.Pi*880*float64(i)/float64(testRate)))
		stereo = append(stereo, s, s)
	}
	require.NoError(t, myaudio.SavePCMDataToWAV(
		filepath.Join(dir, "stereo.wav"), myaudio.Float32ToS16LE(stereo), testRate, 2))

	store := NewStore()
	require.NoError(t, store.Load(dir, newTestExtractor(t), storeTestSettings()))
	require.Equal(t, 2, store.Len(), "stereo references load alongside mono ones")

	patterns := store.All()
	mono, stereoPattern := patterns[0], patterns[1]
	require.Equal(t, "mono", mono.ID)
	require.Equal(t, "stereo", stereoPattern.ID)
	require.Equal(t, len(mono.Features), len(stereoPattern.Features),
		"downmix must not change the window count")
	for w := range mono.Features {
		for b := range mono.Features[w].Bands {
			assert.InDelta(t, mono.Features[w].Bands[b], stereoPattern.Features[w].Bands[b], 1e-3,
				"window %d band %d must match the mono decode", w, b)
		}
	}
}

func TestStore_LoadRejectsRateMismatch(t *testing.T) {
	dir := t.TempDir()
	writeTestWAV(t, dir, "wrong_rate.wav", 0.5, 22050)

	store := NewStore()
	err := store.Load(dir, newTestExtractor(t), storeTestSettings())
	require.Error(t, err, "rate mismatch must abort the load, never resample silently")
	assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
}

func TestStore_Metadata(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "cm_meta.wav", 0.5, testRate)

	meta := Metadata{
		ID:         "cm_meta",
		Filename:   "cm_meta.wav",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		SampleRate: testRate,
		Channels:   1,
		Duration:   0.5,
	}
	require.NoError(t, WriteMetadata(path, meta))

	store := NewStore()
	require.NoError(t, store.Load(dir, newTestExtractor(t), storeTestSettings()))
	require.Equal(t, 1, store.Len())
	assert.Equal(t, meta.ID, store.All()[0].Metadata.ID)
	assert.Equal(t, meta.CreatedAt, store.All()[0].Metadata.CreatedAt)
}

func TestStore_AddAndSnapshot(t *testing.T) {
	store := NewStore()

	store.Add(&Pattern{ID: "x"}) // empty features, must be rejected
	assert.Zero(t, store.Len())

	p := &Pattern{
		ID:            "cm_live",
		Features:      make([]dsp.FeatureVector, 10),
		FrameDuration: 10 * time.Millisecond,
	}
	store.Add(p)
	require.Equal(t, 1, store.Len())

	snapshot := store.All()
	store.Add(&Pattern{ID: "later", Features: make([]dsp.FeatureVector, 5)})
	assert.Len(t, snapshot, 1, "snapshot must not grow when the store does")
	assert.Equal(t, 2, store.Len())
}

func TestStore_MaxFeatureLen(t *testing.T) {
	store := NewStore()
	assert.Zero(t, store.MaxFeatureLen())

	store.Add(&Pattern{ID: "short", Features: make([]dsp.FeatureVector, 3)})
	store.Add(&Pattern{ID: "long", Features: make([]dsp.FeatureVector, 42)})
	assert.Equal(t, 42, store.MaxFeatureLen())
}
