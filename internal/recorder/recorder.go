// Package recorder captures a stretch of live audio and files it as a new
// reference pattern: a WAV in the patterns directory, a JSON metadata
// sidecar next to it, and an entry in the in-memory catalogue so the new
// pattern matches without a restart.
package recorder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

// ChunkSource delivers mono float32 analysis chunks.
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]float32, error)
}

// Recorder captures new reference patterns from a live source.
type Recorder struct {
	settings  *conf.Settings
	extractor *dsp.Extractor
	store     *pattern.Store
	log       *slog.Logger
}

// New creates a recorder writing into the configured patterns directory.
func New(settings *conf.Settings, extractor *dsp.Extractor, store *pattern.Store) *Recorder {
	return &Recorder{
		settings:  settings,
		extractor: extractor,
		store:     store,
		log:       logging.ForService("recorder"),
	}
}

// Record captures record.duration seconds of audio from the source and
// files it under the given name. An empty name generates one from a UUID.
// The new pattern is added to the catalogue before Record returns.
func (r *Recorder) Record(ctx context.Context, source ChunkSource, name string) (*pattern.Pattern, error) {
	if name == "" {
		name = "cm_" + uuid.New().String()
	}

	target := int(r.settings.Record.Duration * float64(r.settings.Audio.SampleRate))
	if target <= 0 {
		return nil, errors.Newf("record duration %.2fs yields no samples", r.settings.Record.Duration).
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	}

	r.log.Info("recording pattern",
		"name", name,
		"duration_seconds", r.settings.Record.Duration)

	samples := make([]float32, 0, target)
	for len(samples) < target {
		chunk, err := source.ReadChunk(ctx)
		if err != nil {
			return nil, errors.New(err).
				Component("recorder").
				Category(errors.CategoryAudioSource).
				Context("captured_samples", len(samples)).
				Build()
		}
		samples = append(samples, chunk...)
	}
	samples = samples[:target]

	return r.save(name, samples)
}

// save writes the WAV, its metadata sidecar, and registers the pattern.
func (r *Recorder) save(name string, samples []float32) (*pattern.Pattern, error) {
	features, err := r.extractor.ExtractSeries(samples)
	if err != nil {
		return nil, errors.New(err).
			Component("recorder").
			Category(errors.CategoryAudio).
			Build()
	}

	dir := r.settings.Patterns.Directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("directory", dir).
			Build()
	}

	wavPath := filepath.Join(dir, name+".wav")
	pcm := myaudio.Float32ToS16LE(samples)
	if err := myaudio.SavePCMDataToWAV(wavPath, pcm, r.settings.Audio.SampleRate, 1); err != nil {
		return nil, err
	}

	duration := float64(len(samples)) / float64(r.settings.Audio.SampleRate)
	meta := pattern.Metadata{
		ID:         name,
		Filename:   name + ".wav",
		CreatedAt:  time.Now().UTC(),
		SampleRate: r.settings.Audio.SampleRate,
		Channels:   1,
		Duration:   duration,
	}
	if err := pattern.WriteMetadata(wavPath, meta); err != nil {
		return nil, err
	}

	p := &pattern.Pattern{
		ID:            name,
		Features:      features,
		FrameDuration: r.settings.TickInterval(),
		Metadata:      meta,
	}
	r.store.Add(p)

	r.log.Info("pattern saved", "id", name, "file", wavPath, "windows", len(features))
	return p, nil
}
