package myaudio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
)

const (
	// pollInterval is how often ReadChunk checks the ring buffer for a
	// complete chunk while waiting.
	pollInterval = 10 * time.Millisecond

	// bufferedChunks is the ring buffer capacity in analysis chunks. Ten
	// chunks of headroom absorbs scheduling jitter between the capture
	// callback and the monitor loop.
	bufferedChunks = 10
)

// ErrReadTimeout is returned by ReadChunk when no complete chunk arrived
// within the read timeout. The monitor counts these toward its stall budget.
var ErrReadTimeout = errors.NewStd("timed out waiting for audio chunk")

// ErrSourceClosed is returned by ReadChunk after Close.
var ErrSourceClosed = errors.NewStd("audio source is closed")

// BufferSource decouples the capture callback from the monitor loop with a
// ring buffer. The capture side calls Write from the device callback; the
// monitor side blocks in ReadChunk until one analysis window of audio is
// available, converted to mono float32.
type BufferSource struct {
	mu          sync.Mutex
	rb          *ringbuffer.RingBuffer
	chunkBytes  int
	sampleRate  int
	channels    int
	readTimeout time.Duration
	closed      bool
	overruns    int
	onOverrun   func()
	log         *slog.Logger
}

// NewBufferSource creates a buffer source sized for the configured chunk.
// readTimeout bounds each ReadChunk call.
func NewBufferSource(settings *conf.Settings, readTimeout time.Duration) *BufferSource {
	chunkBytes := settings.ChunkBytes()
	return &BufferSource{
		rb:          ringbuffer.New(chunkBytes * bufferedChunks),
		chunkBytes:  chunkBytes,
		sampleRate:  settings.Audio.SampleRate,
		channels:    settings.Audio.Channels,
		readTimeout: readTimeout,
		log:         logging.ForService("audio-buffer"),
	}
}

// SetOverrunCallback registers fn to be invoked once per overrun, before
// any audio is dropped. Must be called before capture starts.
func (b *BufferSource) SetOverrunCallback(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOverrun = fn
}

// SampleRate returns the source's sample rate in Hz.
func (b *BufferSource) SampleRate() int { return b.sampleRate }

// Channels returns the source's channel count.
func (b *BufferSource) Channels() int { return b.channels }

// Write appends captured PCM bytes. When the buffer is full the oldest
// audio is dropped so the capture callback never blocks; the monitor will
// observe the gap as a late chunk, not as corrupted data.
func (b *BufferSource) Write(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if b.rb.Free() < len(pcm) {
		// Drop oldest data to make room
		discard := make([]byte, len(pcm)-b.rb.Free())
		_, _ = b.rb.Read(discard)
		b.overruns++
		if b.onOverrun != nil {
			b.onOverrun()
		}
		if b.log != nil && b.overruns%32 == 1 {
			b.log.Warn("capture buffer overrun, dropping oldest audio",
				"dropped_bytes", len(discard), "overruns", b.overruns)
		}
	}

	_, _ = b.rb.Write(pcm)
}

// ReadChunk blocks until one analysis window of audio is available, the
// read timeout elapses, or ctx is cancelled. It returns the window as mono
// float32 samples.
func (b *BufferSource) ReadChunk(ctx context.Context) ([]float32, error) {
	deadline := time.Now().Add(b.readTimeout)

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrSourceClosed
		}
		if b.rb.Length() >= b.chunkBytes {
			pcm := make([]byte, b.chunkBytes)
			_, err := b.rb.Read(pcm)
			b.mu.Unlock()
			if err != nil {
				return nil, errors.New(err).
					Component("myaudio").
					Category(errors.CategoryBuffer).
					Build()
			}
			return S16LEToMonoFloat32(pcm, b.channels)
		}
		b.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, ErrReadTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Reset discards any buffered audio. Used between monitor restarts.
func (b *BufferSource) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rb.Reset()
}

// Close marks the source closed; subsequent reads fail with ErrSourceClosed.
func (b *BufferSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
