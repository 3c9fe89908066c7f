package monitor

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/detection"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

const (
	testChunkSize  = 256
	testSampleRate = 44100
)

// recordingAction collects dispatched events for assertions.
type recordingAction struct {
	mu     sync.Mutex
	events []detection.Event
}

func (a *recordingAction) Execute(ctx context.Context, ev detection.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAction) Description() string { return "recording action" }

func (a *recordingAction) snapshot() []detection.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]detection.Event, len(a.events))
	copy(out, a.events)
	return out
}

func (a *recordingAction) count(typ detection.EventType) int {
	n := 0
	for _, ev := range a.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// scriptedSource replays a fixed sequence of chunk reads, then blocks
// until the context is cancelled.
type scriptedSource struct {
	mu     sync.Mutex
	chunks [][]float32
	errs   []error
}

func (s *scriptedSource) push(chunk []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	s.errs = append(s.errs, nil)
}

func (s *scriptedSource) pushErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, nil)
	s.errs = append(s.errs, err)
}

func (s *scriptedSource) ReadChunk(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		chunk, err := s.chunks[0], s.errs[0]
		s.chunks, s.errs = s.chunks[1:], s.errs[1:]
		s.mu.Unlock()
		return chunk, err
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func toneChunk(freq float64) []float32 {
	chunk := make([]float32, testChunkSize)
	for i := range chunk {
		chunk[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(testSampleRate)))
	}
	return chunk
}

func monitorTestSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Audio.SampleRate = testSampleRate
	s.Audio.Channels = 1
	s.Audio.ChunkSize = testChunkSize
	s.Detection.MatchThreshold = 0.8
	s.Detection.SilenceThreshold = 0.01
	s.Detection.ConfirmTicks = 2
	s.Detection.CooldownWindow = 0.001
	s.Detection.StallTimeout = 1.0
	s.Detection.ReadRetries = 3
	return s
}

// newTestMonitor builds a monitor whose catalogue holds one pattern made
// of the given chunks, so replaying those chunks scores 1.0.
func newTestMonitor(t *testing.T, source ChunkSource, patternChunks ...[]float32) (*Monitor, *recordingAction) {
	t.Helper()

	settings := monitorTestSettings()
	extractor, err := dsp.NewExtractor(testChunkSize, settings.Detection.SilenceThreshold)
	require.NoError(t, err)

	var samples []float32
	for _, chunk := range patternChunks {
		samples = append(samples, chunk...)
	}
	features, err := extractor.ExtractSeries(samples)
	require.NoError(t, err)

	store := pattern.NewStore()
	store.Add(&pattern.Pattern{ID: "cm_test", Features: features, FrameDuration: settings.TickInterval()})

	action := &recordingAction{}
	mon := New(settings, store, extractor, source, NewDispatcher(action), nil)
	return mon, action
}

func TestMonitor_DetectsPattern(t *testing.T) {
	cm := toneChunk(880)
	source := &scriptedSource{}
	// A few non-matching chunks, then enough of the commercial to reach
	// the confirm count
	source.push(toneChunk(200))
	source.push(toneChunk(300))
	source.push(cm)
	source.push(cm)
	source.push(cm)

	mon, action := newTestMonitor(t, source, cm)
	require.NoError(t, mon.Start(context.Background()))
	defer mon.Stop()

	require.Eventually(t, func() bool {
		return action.count(detection.MatchStart) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := action.snapshot()
	assert.Equal(t, "cm_test", events[0].PatternID)
	assert.GreaterOrEqual(t, events[0].Score, 0.8)
}

func TestMonitor_StopFlushesActiveMatch(t *testing.T) {
	cm := toneChunk(880)
	source := &scriptedSource{}
	for i := 0; i < 5; i++ {
		source.push(cm)
	}

	mon, action := newTestMonitor(t, source, cm)
	require.NoError(t, mon.Start(context.Background()))

	require.Eventually(t, func() bool {
		return action.count(detection.MatchStart) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mon.Stop()

	assert.Equal(t, 1, action.count(detection.MatchEnd),
		"stop during an active match must emit exactly one MatchEnd")
}

func TestMonitor_StopWithoutMatchEmitsNothing(t *testing.T) {
	source := &scriptedSource{}
	source.push(toneChunk(200))

	mon, action := newTestMonitor(t, source, toneChunk(880))
	require.NoError(t, mon.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	mon.Stop()

	assert.Empty(t, action.snapshot(), "no MatchEnd without a prior MatchStart")
}

func TestMonitor_StallForcesIdle(t *testing.T) {
	cm := toneChunk(880)
	source := &scriptedSource{}
	for i := 0; i < 3; i++ {
		source.push(cm)
	}
	// More consecutive failures than read_retries tolerates
	for i := 0; i < 5; i++ {
		source.pushErr(myaudio.ErrReadTimeout)
	}

	mon, action := newTestMonitor(t, source, cm)
	require.NoError(t, mon.Start(context.Background()))
	defer mon.Stop()

	require.Eventually(t, func() bool {
		return action.count(detection.MatchEnd) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_StallReportedToConditionCallback(t *testing.T) {
	source := &scriptedSource{}
	for i := 0; i < 5; i++ {
		source.pushErr(myaudio.ErrReadTimeout)
	}

	mon, _ := newTestMonitor(t, source, toneChunk(880))

	var mu sync.Mutex
	var reported []error
	mon.SetConditionCallback(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})

	require.NoError(t, mon.Start(context.Background()))
	defer mon.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 1
	}, 2*time.Second, 10*time.Millisecond, "the caller must see the stall condition")

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, errors.HasCategory(reported[0], errors.CategoryStreamStall),
		"reported condition must carry the stream-stall category")
}

func TestMonitor_RecoversAfterStall(t *testing.T) {
	cm := toneChunk(880)
	source := &scriptedSource{}
	for i := 0; i < 5; i++ {
		source.pushErr(myaudio.ErrReadTimeout)
	}
	for i := 0; i < 4; i++ {
		source.push(cm)
	}

	mon, action := newTestMonitor(t, source, cm)
	require.NoError(t, mon.Start(context.Background()))
	defer mon.Stop()

	require.Eventually(t, func() bool {
		return action.count(detection.MatchStart) == 1
	}, 2*time.Second, 10*time.Millisecond, "detection must resume once audio returns")
}

func TestMonitor_SourceClosedStopsLoop(t *testing.T) {
	source := &scriptedSource{}
	source.pushErr(myaudio.ErrSourceClosed)

	mon, _ := newTestMonitor(t, source, toneChunk(880))
	require.NoError(t, mon.Start(context.Background()))

	// Stop must return promptly because the run loop already exited
	finished := make(chan struct{})
	go func() {
		mon.Stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the source closed")
	}
}

func TestMonitor_DoubleStartRejected(t *testing.T) {
	source := &scriptedSource{}
	mon, _ := newTestMonitor(t, source, toneChunk(880))

	require.NoError(t, mon.Start(context.Background()))
	assert.Error(t, mon.Start(context.Background()))
	mon.Stop()
}

func TestMonitor_Restartable(t *testing.T) {
	cm := toneChunk(880)
	source := &scriptedSource{}
	for i := 0; i < 3; i++ {
		source.push(cm)
	}

	mon, action := newTestMonitor(t, source, cm)
	require.NoError(t, mon.Start(context.Background()))
	require.Eventually(t, func() bool {
		return action.count(detection.MatchStart) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mon.Stop()

	for i := 0; i < 3; i++ {
		source.push(cm)
	}
	require.NoError(t, mon.Start(context.Background()))
	require.Eventually(t, func() bool {
		return action.count(detection.MatchStart) == 2
	}, 2*time.Second, 10*time.Millisecond, "a stopped monitor must start cleanly again")
	mon.Stop()
}

func TestAppendBounded(t *testing.T) {
	mk := func(band int) dsp.FeatureVector {
		var fv dsp.FeatureVector
		fv.Bands[band] = 1
		return fv
	}

	var live []dsp.FeatureVector
	for i := 0; i < 5; i++ {
		live = appendBounded(live, mk(i), 3)
	}
	require.Len(t, live, 3)
	assert.Equal(t, 1.0, live[0].Bands[2], "oldest surviving vector")
	assert.Equal(t, 1.0, live[2].Bands[4], "newest vector last")

	assert.Empty(t, appendBounded(live, mk(0), 0), "no patterns means no window")
}
