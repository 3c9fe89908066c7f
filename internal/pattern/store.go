package pattern

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
)

// Store is the in-memory pattern catalogue. Reads take a snapshot under a
// short lock; the matcher never iterates the live slice, so a concurrent
// Add during monitoring cannot mutate a set mid-tick.
type Store struct {
	mu       sync.RWMutex
	patterns []*Pattern
	log      *slog.Logger
}

// NewStore creates an empty pattern store.
func NewStore() *Store {
	return &Store{log: logging.ForService("pattern-store")}
}

// Load scans the patterns directory for WAV recordings and builds a
// Pattern for each. Unreadable, malformed or empty files are skipped with
// a warning. A recording whose sample rate or channel count does not match
// the configured capture format is a configuration error and aborts the
// load: the system never silently resamples.
func (s *Store) Load(dir string, extractor *dsp.Extractor, settings *conf.Settings) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// An absent directory just means an empty catalogue
			return nil
		}
		return errors.New(err).
			Component("pattern").
			Category(errors.CategoryFileIO).
			Context("directory", dir).
			Build()
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		names = append(names, entry.Name())
	}
	// Deterministic load order regardless of directory iteration order
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		p, err := loadOne(filepath.Join(dir, name), extractor, settings)
		if err != nil {
			if errors.HasCategory(err, errors.CategoryConfiguration) {
				return err
			}
			if s.log != nil {
				s.log.Warn("skipping unreadable pattern file", "file", name, "error", err)
			}
			continue
		}
		s.Add(p)
		loaded++
		if s.log != nil {
			s.log.Info("loaded pattern", "id", p.ID, "duration_seconds", p.Duration().Seconds())
		}
	}

	if s.log != nil {
		s.log.Info("pattern catalogue ready", "patterns", loaded, "skipped", len(names)-loaded)
	}
	return nil
}

// loadOne decodes a single reference WAV into a Pattern.
func loadOne(path string, extractor *dsp.Extractor, settings *conf.Settings) (*Pattern, error) {
	samples, info, err := myaudio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}

	if info.SampleRate != settings.Audio.SampleRate {
		return nil, errors.Newf("pattern %s recorded at %d Hz but monitor runs at %d Hz",
			filepath.Base(path), info.SampleRate, settings.Audio.SampleRate).
			Component("pattern").
			Category(errors.CategoryConfiguration).
			Build()
	}

	features, err := extractor.ExtractSeries(samples)
	if err != nil {
		return nil, errors.New(err).
			Component("pattern").
			Category(errors.CategoryPatternLoad).
			FileContext(path, 0).
			Build()
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	p := &Pattern{
		ID:            id,
		Features:      features,
		FrameDuration: settings.TickInterval(),
	}

	// Metadata sidecar is optional; a missing or corrupt one does not
	// invalidate the recording itself.
	if meta, err := readMetadata(path); err == nil {
		p.Metadata = meta
	} else {
		p.Metadata = Metadata{
			ID:         id,
			Filename:   filepath.Base(path),
			SampleRate: info.SampleRate,
			Channels:   info.NumChannels,
			Duration:   p.Duration().Seconds(),
		}
	}

	return p, nil
}

// readMetadata reads the JSON sidecar next to a reference WAV.
func readMetadata(wavPath string) (Metadata, error) {
	sidecar := strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".json"
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// WriteMetadata stores the JSON sidecar for a reference WAV.
func WriteMetadata(wavPath string, meta Metadata) error {
	sidecar := strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".json"
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sidecar, data, 0o644)
}

// Add appends a pattern to the catalogue. Patterns with empty feature
// series are rejected silently since they can never match.
func (s *Store) Add(p *Pattern) {
	if p == nil || len(p.Features) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, p)
}

// All returns a snapshot of the catalogue. The returned slice is a copy;
// the patterns themselves are immutable.
func (s *Store) All() []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]*Pattern, len(s.patterns))
	copy(snapshot, s.patterns)
	return snapshot
}

// Len returns the number of patterns in the catalogue.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// MaxFeatureLen returns the length in windows of the longest pattern,
// which sizes the monitor's rolling live-feature window.
func (s *Store) MaxFeatureLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxLen := 0
	for _, p := range s.patterns {
		if len(p.Features) > maxLen {
			maxLen = len(p.Features)
		}
	}
	return maxLen
}
