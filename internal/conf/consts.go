package conf

// Capture format constants. The whole pipeline works on signed 16-bit
// little-endian PCM; patterns recorded at a different bit depth are
// converted at load time.
const (
	BitDepth = 16

	// DefaultSampleRate and DefaultChunkSize match the legacy recordings:
	// 1024 samples at 44.1 kHz is one analysis window of ~23 ms.
	DefaultSampleRate = 44100
	DefaultChunkSize  = 1024
	DefaultChannels   = 2
)
