package recorder

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

const (
	testChunkSize  = 256
	testSampleRate = 8000
)

// toneSource produces an endless 880 Hz tone.
type toneSource struct {
	phase int
}

func (s *toneSource) ReadChunk(ctx context.Context) ([]float32, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	chunk := make([]float32, testChunkSize)
	for i := range chunk {
		chunk[i] = float32(0.5 * math.Sin(2*math.Pi*880*float64(s.phase+i)/float64(testSampleRate)))
	}
	s.phase += testChunkSize
	return chunk, nil
}

type failingSource struct{}

func (failingSource) ReadChunk(ctx context.Context) ([]float32, error) {
	return nil, errors.NewStd("device gone")
}

func recorderTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Audio.SampleRate = testSampleRate
	s.Audio.Channels = 1
	s.Audio.ChunkSize = testChunkSize
	s.Detection.SilenceThreshold = 0.01
	s.Record.Duration = 0.5
	s.Patterns.Directory = filepath.Join(t.TempDir(), "patterns")
	return s
}

func newTestRecorder(t *testing.T, settings *conf.Settings) (*Recorder, *pattern.Store) {
	t.Helper()
	extractor, err := dsp.NewExtractor(testChunkSize, settings.Detection.SilenceThreshold)
	require.NoError(t, err)
	store := pattern.NewStore()
	return New(settings, extractor, store), store
}

func TestRecorder_Record(t *testing.T) {
	settings := recorderTestSettings(t)
	rec, store := newTestRecorder(t, settings)

	p, err := rec.Record(context.Background(), &toneSource{}, "cm_tone")
	require.NoError(t, err)

	assert.Equal(t, "cm_tone", p.ID)
	assert.InDelta(t, 0.5, p.Metadata.Duration, 1e-9)
	assert.NotEmpty(t, p.Features)

	// Registered in the live catalogue without a reload
	require.Equal(t, 1, store.Len())

	// WAV decodes back at the capture rate
	wavPath := filepath.Join(settings.Patterns.Directory, "cm_tone.wav")
	samples, info, err := myaudio.ReadWAVFile(wavPath)
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, info.SampleRate)
	assert.Equal(t, int(0.5*testSampleRate), len(samples))

	// Sidecar sits next to the WAV
	_, err = os.Stat(filepath.Join(settings.Patterns.Directory, "cm_tone.json"))
	assert.NoError(t, err)
}

func TestRecorder_GeneratedName(t *testing.T) {
	settings := recorderTestSettings(t)
	rec, _ := newTestRecorder(t, settings)

	p, err := rec.Record(context.Background(), &toneSource{}, "")
	require.NoError(t, err)
	assert.Contains(t, p.ID, "cm_")
}

func TestRecorder_SourceFailureAborts(t *testing.T) {
	settings := recorderTestSettings(t)
	rec, store := newTestRecorder(t, settings)

	_, err := rec.Record(context.Background(), failingSource{}, "cm_broken")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAudioSource))
	assert.Zero(t, store.Len(), "a failed recording must not reach the catalogue")

	_, statErr := os.Stat(filepath.Join(settings.Patterns.Directory, "cm_broken.wav"))
	assert.True(t, os.IsNotExist(statErr), "no partial WAV on failure")
}

func TestRecorder_CancelledContext(t *testing.T) {
	settings := recorderTestSettings(t)
	rec, _ := newTestRecorder(t, settings)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rec.Record(ctx, &toneSource{}, "cm_cancelled")
	assert.Error(t, err)
}

func TestRecorder_RoundTripMatchesItself(t *testing.T) {
	settings := recorderTestSettings(t)
	rec, store := newTestRecorder(t, settings)

	_, err := rec.Record(context.Background(), &toneSource{}, "cm_roundtrip")
	require.NoError(t, err)

	// Reload from disk into a fresh store and compare feature series
	extractor, err := dsp.NewExtractor(testChunkSize, settings.Detection.SilenceThreshold)
	require.NoError(t, err)
	reloaded := pattern.NewStore()
	require.NoError(t, reloaded.Load(settings.Patterns.Directory, extractor, settings))
	require.Equal(t, 1, reloaded.Len())

	live := store.All()[0]
	fromDisk := reloaded.All()[0]
	require.Equal(t, len(live.Features), len(fromDisk.Features))
	for i := range live.Features {
		for b := 0; b < dsp.NumBands; b++ {
			assert.InDelta(t, live.Features[i].Bands[b], fromDisk.Features[i].Bands[b], 1e-3)
		}
	}
}
