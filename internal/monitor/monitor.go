// Package monitor runs the realtime detection loop: read one chunk of
// captured audio, extract its features, score the live window against the
// pattern catalogue, advance the detection state machine and hand any
// resulting events to the dispatcher.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/detection"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/matcher"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/observability/metrics"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

// ChunkSource delivers mono float32 analysis chunks from the capture
// backend.
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]float32, error)
}

// Monitor owns the detection loop. Start and Stop may be called multiple
// times; each Start opens a fresh run over the same source and catalogue.
type Monitor struct {
	settings   *conf.Settings
	store      *pattern.Store
	extractor  *dsp.Extractor
	source     ChunkSource
	dispatcher *Dispatcher
	metrics    *metrics.MonitorMetrics
	log        *slog.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	running     bool
	onCondition func(error)
}

// New assembles a monitor. Metrics may be nil.
func New(settings *conf.Settings, store *pattern.Store, extractor *dsp.Extractor, source ChunkSource, dispatcher *Dispatcher, m *metrics.MonitorMetrics) *Monitor {
	return &Monitor{
		settings:   settings,
		store:      store,
		extractor:  extractor,
		source:     source,
		dispatcher: dispatcher,
		metrics:    m,
		log:        logging.ForService("monitor"),
	}
}

// SetConditionCallback registers fn to receive typed stream conditions,
// currently stall reports. The loop keeps retrying after reporting; the
// caller decides whether to stop the monitor. fn runs on the monitor
// goroutine and must not block.
func (m *Monitor) SetConditionCallback(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCondition = fn
}

// Start launches the detection loop. It returns an error if the monitor
// is already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.Newf("monitor already running").
			Component("monitor").
			Category(errors.CategoryState).
			Build()
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	// The dispatcher must outlive run loop cancellation: the final flush
	// events are submitted after runCtx is cancelled and the actions they
	// trigger (unmute, restore) still need a live context.
	m.dispatcher.Start(context.WithoutCancel(ctx))

	m.log.Info("monitor starting",
		"patterns", m.store.Len(),
		"tick_interval", m.settings.TickInterval().String(),
		"match_threshold", m.settings.Detection.MatchThreshold)

	go m.run(runCtx, m.done)
	return nil
}

// Stop halts the loop and blocks until the final flush has been handed to
// the actions and the dispatcher has drained. If a match is active, the
// flush emits its MatchEnd so nothing stays muted.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.dispatcher.Stop()
	m.log.Info("monitor stopped")
}

// run is the detection loop body. It exits when ctx is cancelled or the
// source closes, flushing any active match on the way out.
func (m *Monitor) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	sm := detection.NewStateMachine(detection.Config{
		MatchThreshold: m.settings.Detection.MatchThreshold,
		ConfirmTicks:   m.settings.Detection.ConfirmTicks,
		CooldownWindow: m.settings.CooldownDuration(),
	}, m.log)

	defer func() {
		for _, ev := range sm.ForceIdle(time.Now()) {
			m.emit(ev)
		}
	}()

	var live []dsp.FeatureVector
	failures := 0
	lastData := time.Now()

	for {
		samples, err := m.source.ReadChunk(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, myaudio.ErrSourceClosed):
				return
			case errors.Is(err, myaudio.ErrReadTimeout):
				failures++
				if m.metrics != nil {
					m.metrics.IncrementReadRetries()
				}
			default:
				failures++
				m.log.Warn("chunk read failed", "error", err, "failures", failures)
			}

			// Stall on either condition: the retry budget is spent, or no
			// audio has arrived within the stall timeout.
			if failures > m.settings.Detection.ReadRetries ||
				time.Since(lastData) > m.settings.StallDuration() {
				m.handleStall(sm, &live)
				failures = 0
				lastData = time.Now()
			}
			continue
		}
		failures = 0
		lastData = time.Now()

		tickStart := time.Now()
		fv, err := m.extractor.Extract(samples)
		if err != nil {
			m.log.Warn("feature extraction failed", "error", err)
			continue
		}

		patterns := m.store.All()
		maxLen := m.store.MaxFeatureLen()
		live = appendBounded(live, fv, maxLen)

		best, ok := matcher.BestMatch(live, patterns, tickStart)
		if !ok {
			// Empty catalogue; keep consuming audio so the buffer
			// does not overrun while patterns are being recorded
			continue
		}

		events := sm.Tick(best)
		if m.metrics != nil {
			m.metrics.RecordTick(best.Score, time.Since(tickStart).Seconds())
		}
		for _, ev := range events {
			m.emit(ev)
		}
	}
}

// handleStall reports a stalled stream, flushes any active match and
// clears the live window so stale audio cannot score after recovery.
func (m *Monitor) handleStall(sm *detection.StateMachine, live *[]dsp.FeatureVector) {
	err := errors.Newf("no audio within the stall budget (%d retries, %s timeout)",
		m.settings.Detection.ReadRetries, m.settings.StallDuration()).
		Component("monitor").
		Category(errors.CategoryStreamStall).
		Build()
	m.log.Error("capture stream stalled, forcing idle", "error", err)

	if m.metrics != nil {
		m.metrics.IncrementStreamStalls()
	}
	m.mu.Lock()
	onCondition := m.onCondition
	m.mu.Unlock()
	if onCondition != nil {
		onCondition(err)
	}
	for _, ev := range sm.ForceIdle(time.Now()) {
		m.emit(ev)
	}
	*live = (*live)[:0]
}

// emit updates metrics and hands one event to the dispatcher.
func (m *Monitor) emit(ev detection.Event) {
	if m.metrics != nil {
		switch ev.Type {
		case detection.MatchStart:
			m.metrics.RecordDetection(ev.PatternID)
			m.metrics.SetMatchActive(true)
		case detection.MatchEnd:
			m.metrics.SetMatchActive(false)
		}
	}
	m.dispatcher.Submit(ev)
}

// appendBounded appends fv and keeps only the most recent maxLen vectors.
func appendBounded(live []dsp.FeatureVector, fv dsp.FeatureVector, maxLen int) []dsp.FeatureVector {
	if maxLen <= 0 {
		return live[:0]
	}
	live = append(live, fv)
	if len(live) > maxLen {
		copy(live, live[len(live)-maxLen:])
		live = live[:maxLen]
	}
	return live
}
