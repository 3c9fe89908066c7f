package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/matcher"
)

const tick = 23 * time.Millisecond

func testConfig() Config {
	return Config{
		MatchThreshold: 0.8,
		ConfirmTicks:   3,
		CooldownWindow: 2 * time.Second,
	}
}

// feed runs a score series through the machine at one tick per step and
// collects every emitted event.
func feed(m *StateMachine, start time.Time, scores ...float64) []Event {
	var events []Event
	for i, s := range scores {
		events = append(events, m.Tick(matcher.MatchScore{
			PatternID: "cm_test",
			Score:     s,
			Timestamp: start.Add(time.Duration(i) * tick),
		})...)
	}
	return events
}

func TestStateMachine_ConfirmAfterConsecutiveTicks(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	events := feed(m, start, 0.9, 0.9, 0.9, 0.4)

	require.Len(t, events, 1, "one MatchStart, and the single dip must not end the match")
	assert.Equal(t, MatchStart, events[0].Type)
	assert.Equal(t, "cm_test", events[0].PatternID)
	assert.Equal(t, start.Add(2*tick), events[0].Timestamp, "start fires on the third qualifying tick")
	assert.Equal(t, CoolingDown, m.State())
}

func TestStateMachine_SubThresholdNeverTriggers(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)

	scores := make([]float64, 100)
	for i := range scores {
		scores[i] = 0.5
	}
	events := feed(m, time.Now(), scores...)

	assert.Empty(t, events)
	assert.Equal(t, Idle, m.State())
}

func TestStateMachine_SpuriousTickResets(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)

	// Two qualifying ticks then a dip: the candidate is discarded and the
	// count starts over, so the later pair does not confirm either.
	events := feed(m, time.Now(), 0.9, 0.9, 0.3, 0.9, 0.9)

	assert.Empty(t, events)
	assert.Equal(t, Matching, m.State())
}

func TestStateMachine_CooldownAbsorbsDip(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	events := feed(m, start, 0.9, 0.9, 0.9, 0.4, 0.4, 0.9)

	require.Len(t, events, 1, "the dip recovers inside the cooldown window; no end, no second start")
	assert.Equal(t, MatchStart, events[0].Type)
	assert.Equal(t, Confirmed, m.State())
}

func TestStateMachine_EndsAfterCooldownElapses(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	events := feed(m, start, 0.9, 0.9, 0.9)
	require.Len(t, events, 1)
	require.Equal(t, MatchStart, events[0].Type)

	// Sub-threshold ticks inside the cooldown window emit nothing
	events = m.Tick(matcher.MatchScore{Score: 0.2, Timestamp: start.Add(3 * tick)})
	assert.Empty(t, events)
	assert.Equal(t, CoolingDown, m.State())

	// One tick past the window ends the match
	endAt := start.Add(2*tick + testConfig().CooldownWindow + tick)
	events = m.Tick(matcher.MatchScore{Score: 0.2, Timestamp: endAt})
	require.Len(t, events, 1)
	assert.Equal(t, MatchEnd, events[0].Type)
	assert.Equal(t, "cm_test", events[0].PatternID)
	assert.Equal(t, endAt.Sub(start), events[0].Duration)
	assert.Equal(t, Idle, m.State())
}

func TestStateMachine_CooldownMeasuredFromLastQualifyingTick(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownWindow = 5 * tick
	m := NewStateMachine(cfg, nil)
	start := time.Now()

	feed(m, start, 0.9, 0.9, 0.9)

	// Dip, recover, dip again: the second dip's clock starts at the
	// recovery tick, not the first dip.
	require.Empty(t, m.Tick(matcher.MatchScore{Score: 0.1, Timestamp: start.Add(3 * tick)}))
	require.Empty(t, m.Tick(matcher.MatchScore{Score: 0.9, Timestamp: start.Add(4 * tick)}))
	require.Empty(t, m.Tick(matcher.MatchScore{Score: 0.1, Timestamp: start.Add(8 * tick)}))

	events := m.Tick(matcher.MatchScore{Score: 0.1, Timestamp: start.Add(10 * tick)})
	require.Len(t, events, 1)
	assert.Equal(t, MatchEnd, events[0].Type)
}

func TestStateMachine_PeakScoreReported(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	events := feed(m, start, 0.85, 0.95, 0.9)
	require.Len(t, events, 1)
	assert.InDelta(t, 0.95, events[0].Score, 1e-9)
}

func TestStateMachine_ForceIdleFlushesActiveMatch(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	feed(m, start, 0.9, 0.9, 0.9)
	require.Equal(t, Confirmed, m.State())

	stopAt := start.Add(10 * tick)
	events := m.ForceIdle(stopAt)
	require.Len(t, events, 1, "stopping mid-match must emit exactly one MatchEnd")
	assert.Equal(t, MatchEnd, events[0].Type)
	assert.Equal(t, stopAt.Sub(start), events[0].Duration)
	assert.Equal(t, Idle, m.State())

	// A second flush has nothing to end
	assert.Empty(t, m.ForceIdle(stopAt.Add(tick)))
}

func TestStateMachine_ForceIdleDuringCooldown(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	feed(m, start, 0.9, 0.9, 0.9, 0.4)
	require.Equal(t, CoolingDown, m.State())

	events := m.ForceIdle(start.Add(4 * tick))
	require.Len(t, events, 1)
	assert.Equal(t, MatchEnd, events[0].Type)
}

func TestStateMachine_ForceIdleWhileMatchingEmitsNothing(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)

	feed(m, time.Now(), 0.9, 0.9)
	require.Equal(t, Matching, m.State())

	assert.Empty(t, m.ForceIdle(time.Now()),
		"no MatchEnd without a prior MatchStart")
	assert.Equal(t, Idle, m.State())
}

func TestStateMachine_NoDuplicateStarts(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	// Long alternating run after confirmation: dips always recover within
	// the cooldown window, so the match stays active throughout.
	scores := []float64{0.9, 0.9, 0.9}
	for i := 0; i < 20; i++ {
		scores = append(scores, 0.4, 0.9)
	}
	events := feed(m, start, scores...)

	starts := 0
	for _, ev := range events {
		if ev.Type == MatchStart {
			starts++
		}
	}
	assert.Equal(t, 1, starts)
}

func TestStateMachine_ConfirmTicksOfOne(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmTicks = 1
	m := NewStateMachine(cfg, nil)

	events := feed(m, time.Now(), 0.9)
	require.Len(t, events, 1)
	assert.Equal(t, MatchStart, events[0].Type)
	assert.Equal(t, Confirmed, m.State())
}

func TestStateMachine_RestartAfterEnd(t *testing.T) {
	m := NewStateMachine(testConfig(), nil)
	start := time.Now()

	feed(m, start, 0.9, 0.9, 0.9)
	m.ForceIdle(start.Add(3 * tick))

	// A fresh match after the flush requires full reconfirmation
	events := feed(m, start.Add(time.Minute), 0.9, 0.9)
	assert.Empty(t, events)
	events = m.Tick(matcher.MatchScore{PatternID: "cm_test", Score: 0.9, Timestamp: start.Add(time.Minute + 2*tick)})
	require.Len(t, events, 1)
	assert.Equal(t, MatchStart, events[0].Type)
}
