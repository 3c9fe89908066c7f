// Package detection turns the per-tick stream of match scores into
// discrete MatchStart/MatchEnd events. Hysteresis on both edges keeps a
// noisy score series from flapping the actuators: a match must hold for
// N consecutive ticks before it starts, and survive a cooldown window of
// score dips before it ends.
package detection

import (
	"log/slog"
	"time"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/matcher"
)

// State is the detection state machine's current phase.
type State int

const (
	// Idle: no candidate match.
	Idle State = iota
	// Matching: at least one qualifying tick seen, confirmation pending.
	Matching
	// Confirmed: an active match; MatchStart has been emitted.
	Confirmed
	// CoolingDown: score dipped while confirmed; the match is still
	// considered active until the cooldown window elapses.
	CoolingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Matching:
		return "matching"
	case Confirmed:
		return "confirmed"
	case CoolingDown:
		return "cooling-down"
	default:
		return "unknown"
	}
}

// EventType identifies an emitted event.
type EventType int

const (
	// MatchStart marks the confirmed beginning of a detected pattern.
	MatchStart EventType = iota
	// MatchEnd marks the end of a previously started match.
	MatchEnd
)

func (e EventType) String() string {
	if e == MatchStart {
		return "match-start"
	}
	return "match-end"
}

// Event is one emitted detection event. PatternID and Score describe the
// winning pattern for diagnostics; Duration is set on MatchEnd only.
type Event struct {
	Type      EventType
	PatternID string
	Score     float64 // peak score of the active match
	Timestamp time.Time
	Duration  time.Duration
}

// Config holds the state machine's tuning values.
type Config struct {
	MatchThreshold float64       // similarity required for a qualifying tick
	ConfirmTicks   int           // consecutive qualifying ticks before MatchStart
	CooldownWindow time.Duration // dip tolerance before MatchEnd
}

// StateMachine reduces the match score stream to detection events. It is
// not safe for concurrent use; the monitor loop is its only caller, which
// also makes every transition deterministic for a given input sequence
// since all timing comes from tick timestamps, never the wall clock.
type StateMachine struct {
	cfg Config

	state       State
	consecutive int // qualifying ticks seen since Idle

	activePattern string
	peakScore     float64
	activeSince   time.Time
	lastAbove     time.Time // last tick with score >= threshold

	log *slog.Logger
}

// NewStateMachine creates a state machine in the Idle state.
func NewStateMachine(cfg Config, log *slog.Logger) *StateMachine {
	if cfg.ConfirmTicks < 1 {
		cfg.ConfirmTicks = 1
	}
	return &StateMachine{cfg: cfg, log: log}
}

// State returns the current state.
func (m *StateMachine) State() State {
	return m.state
}

// ActivePattern returns the pattern ID of the current candidate or active
// match, or "" when idle.
func (m *StateMachine) ActivePattern() string {
	return m.activePattern
}

// Tick consumes one best-match score and returns any emitted events.
// Which pattern won only decorates the events; it does not affect the
// transition logic.
func (m *StateMachine) Tick(score matcher.MatchScore) []Event {
	qualifying := score.Score >= m.cfg.MatchThreshold

	switch m.state {
	case Idle:
		if !qualifying {
			return nil
		}
		m.state = Matching
		m.consecutive = 1
		m.activePattern = score.PatternID
		m.peakScore = score.Score
		m.activeSince = score.Timestamp
		m.lastAbove = score.Timestamp
		if m.log != nil {
			m.log.Debug("candidate match", "pattern", score.PatternID, "score", score.Score)
		}
		return m.maybeConfirm(score.Timestamp)

	case Matching:
		if !qualifying {
			// A spurious tick, not a real match
			m.reset()
			return nil
		}
		m.consecutive++
		m.lastAbove = score.Timestamp
		if score.Score > m.peakScore {
			m.peakScore = score.Score
			m.activePattern = score.PatternID
		}
		return m.maybeConfirm(score.Timestamp)

	case Confirmed:
		if qualifying {
			m.lastAbove = score.Timestamp
			if score.Score > m.peakScore {
				m.peakScore = score.Score
			}
			return nil
		}
		m.state = CoolingDown
		return nil

	case CoolingDown:
		if qualifying {
			// Dip absorbed; no duplicate MatchStart
			m.state = Confirmed
			m.lastAbove = score.Timestamp
			return nil
		}
		if score.Timestamp.Sub(m.lastAbove) > m.cfg.CooldownWindow {
			return m.end(score.Timestamp)
		}
		return nil
	}

	return nil
}

// maybeConfirm promotes Matching to Confirmed once enough consecutive
// qualifying ticks accumulated.
func (m *StateMachine) maybeConfirm(now time.Time) []Event {
	if m.consecutive < m.cfg.ConfirmTicks {
		return nil
	}
	m.state = Confirmed
	if m.log != nil {
		m.log.Info("match confirmed",
			"pattern", m.activePattern,
			"score", m.peakScore,
			"confirm_ticks", m.consecutive)
	}
	return []Event{{
		Type:      MatchStart,
		PatternID: m.activePattern,
		Score:     m.peakScore,
		Timestamp: now,
	}}
}

// end emits MatchEnd and resets to Idle.
func (m *StateMachine) end(now time.Time) []Event {
	ev := Event{
		Type:      MatchEnd,
		PatternID: m.activePattern,
		Score:     m.peakScore,
		Timestamp: now,
		Duration:  now.Sub(m.activeSince),
	}
	if m.log != nil {
		m.log.Info("match ended",
			"pattern", ev.PatternID,
			"duration_seconds", ev.Duration.Seconds())
	}
	m.reset()
	return []Event{ev}
}

// ForceIdle drops the machine back to Idle regardless of state, emitting
// a terminating MatchEnd if a match was active. Used on stream stall and
// monitor stop so the actuators are never left in a triggered state.
func (m *StateMachine) ForceIdle(now time.Time) []Event {
	switch m.state {
	case Confirmed, CoolingDown:
		return m.end(now)
	default:
		m.reset()
		return nil
	}
}

// reset clears all match tracking and returns to Idle.
func (m *StateMachine) reset() {
	m.state = Idle
	m.consecutive = 0
	m.activePattern = ""
	m.peakScore = 0
	m.activeSince = time.Time{}
	m.lastAbove = time.Time{}
}
