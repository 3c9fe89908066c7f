// Package actuator reacts to detection events by muting system audio and
// dimming the screen, restoring both when the match ends.
package actuator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/detection"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/observability/metrics"
)

// VolumeController mutes and unmutes the system audio output.
type VolumeController interface {
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
}

// ScreenController dims and restores the display.
type ScreenController interface {
	// Dim sets the display brightness to the given fraction in [0, 1].
	Dim(ctx context.Context, brightness float64) error
	Restore(ctx context.Context) error
}

// Controller fans detection events out to the configured actuators. It is
// idempotent per edge: repeated MatchStart events while already triggered
// do nothing, and Release with nothing triggered is a no-op, so the
// actuators track the detection state machine's edges exactly.
type Controller struct {
	settings *conf.Settings
	volume   VolumeController
	screen   ScreenController
	metrics  *metrics.ActuatorMetrics
	log      *slog.Logger

	mu        sync.Mutex
	triggered bool
}

// NewController builds a Controller with platform-native volume and
// screen backends. Metrics may be nil.
func NewController(settings *conf.Settings, m *metrics.ActuatorMetrics) *Controller {
	runner := &execRunner{}
	return &Controller{
		settings: settings,
		volume:   newVolumeController(runner),
		screen:   newScreenController(runner),
		metrics:  m,
		log:      logging.ForService("actuator"),
	}
}

// NewControllerWith builds a Controller over explicit backends, used in
// tests and for platforms with custom tooling.
func NewControllerWith(settings *conf.Settings, volume VolumeController, screen ScreenController, m *metrics.ActuatorMetrics) *Controller {
	return &Controller{
		settings: settings,
		volume:   volume,
		screen:   screen,
		metrics:  m,
		log:      logging.ForService("actuator"),
	}
}

// HandleEvent applies a detection event to the actuators.
func (c *Controller) HandleEvent(ctx context.Context, ev detection.Event) error {
	switch ev.Type {
	case detection.MatchStart:
		return c.trigger(ctx, ev)
	case detection.MatchEnd:
		return c.Release(ctx)
	default:
		return nil
	}
}

// Triggered reports whether the actuators are currently engaged.
func (c *Controller) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

func (c *Controller) trigger(ctx context.Context, ev detection.Event) error {
	c.mu.Lock()
	if c.triggered {
		c.mu.Unlock()
		return nil
	}
	c.triggered = true
	c.mu.Unlock()

	c.log.Info("commercial detected, engaging actuators",
		"pattern", ev.PatternID, "score", ev.Score)

	var errs []error
	if c.settings.Actuator.Mute.Enabled {
		if err := c.volume.Mute(ctx); err != nil {
			errs = append(errs, c.actionError("mute", err))
		} else if c.metrics != nil {
			c.metrics.RecordAction("mute", 0)
		}
	}
	if c.settings.Actuator.Dim.Enabled {
		if err := c.screen.Dim(ctx, c.settings.Actuator.Dim.Brightness); err != nil {
			errs = append(errs, c.actionError("dim", err))
		} else if c.metrics != nil {
			c.metrics.RecordAction("dim", 0)
		}
	}
	return errors.Join(errs...)
}

// Release restores audio and screen to their normal state. Safe to call
// at any time; it is the shutdown path's guarantee that the system is
// never left muted or dimmed.
func (c *Controller) Release(ctx context.Context) error {
	c.mu.Lock()
	if !c.triggered {
		c.mu.Unlock()
		return nil
	}
	c.triggered = false
	c.mu.Unlock()

	c.log.Info("commercial over, releasing actuators")

	var errs []error
	if c.settings.Actuator.Mute.Enabled {
		if err := c.volume.Unmute(ctx); err != nil {
			errs = append(errs, c.actionError("unmute", err))
		} else if c.metrics != nil {
			c.metrics.RecordAction("unmute", 0)
		}
	}
	if c.settings.Actuator.Dim.Enabled {
		if err := c.screen.Restore(ctx); err != nil {
			errs = append(errs, c.actionError("restore", err))
		} else if c.metrics != nil {
			c.metrics.RecordAction("restore", 0)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) actionError(action string, err error) error {
	if c.metrics != nil {
		c.metrics.RecordActionError(action)
	}
	c.log.Error("actuator action failed", "action", action, "error", err)
	return errors.New(err).
		Component("actuator").
		Category(errors.CategoryActuator).
		Context("action", action).
		Build()
}

// Execute lets the controller run as a dispatched action.
func (c *Controller) Execute(ctx context.Context, ev detection.Event) error {
	return c.HandleEvent(ctx, ev)
}

// Description identifies the action in logs.
func (c *Controller) Description() string {
	return "mute and dim actuators"
}
