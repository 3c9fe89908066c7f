// Package pattern maintains the catalogue of reference recordings the
// monitor matches live audio against. Patterns are created once, at load
// or record time, and never mutated afterwards; the catalogue itself is
// append-only.
package pattern

import (
	"time"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
)

// Metadata is the JSON sidecar stored next to each reference WAV.
type Metadata struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	CreatedAt  time.Time `json:"created_at"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Duration   float64   `json:"duration"` // seconds
}

// Pattern is one immutable reference recording, represented as the feature
// vectors of its consecutive analysis windows.
type Pattern struct {
	// ID is a stable identifier derived from the filename; it orders
	// deterministic tie-breaks in the matcher.
	ID string

	// Features holds one vector per analysis window covering the full
	// recording. Never empty, never modified after creation.
	Features []dsp.FeatureVector

	// FrameDuration is the duration of one analysis window.
	FrameDuration time.Duration

	Metadata Metadata
}

// Duration returns the recording length represented by the feature series.
func (p *Pattern) Duration() time.Duration {
	return time.Duration(len(p.Features)) * p.FrameDuration
}
