package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/detection"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
)

// queueSize bounds each action's pending event queue. Detection events
// are rare (a handful per hour), so a small queue only ever fills when an
// action is badly wedged.
const queueSize = 16

// Action is one consumer of detection events, executed off the monitor's
// hot path.
type Action interface {
	Execute(ctx context.Context, ev detection.Event) error
	Description() string
}

// Dispatcher fans detection events out to registered actions. Each action
// gets its own worker goroutine and queue, so a slow action delays only
// itself and every action still sees events in emission order.
type Dispatcher struct {
	actions []Action
	queues  []chan detection.Event
	wg      sync.WaitGroup
	log     *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewDispatcher creates a dispatcher over the given actions.
func NewDispatcher(actions ...Action) *Dispatcher {
	return &Dispatcher{
		actions: actions,
		log:     logging.ForService("dispatch"),
	}
}

// Start launches one worker per action. The workers drain their queues
// until Stop closes them; ctx cancels any in-flight action execution.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	d.queues = make([]chan detection.Event, len(d.actions))
	for i, action := range d.actions {
		queue := make(chan detection.Event, queueSize)
		d.queues[i] = queue
		d.wg.Add(1)
		go d.worker(ctx, action, queue)
	}
}

func (d *Dispatcher) worker(ctx context.Context, action Action, queue <-chan detection.Event) {
	defer d.wg.Done()
	for ev := range queue {
		if err := action.Execute(ctx, ev); err != nil {
			d.log.Error("action failed",
				"action", action.Description(),
				"event", ev.Type.String(),
				"pattern", ev.PatternID,
				"error", err)
		}
	}
}

// Submit queues an event for every action. A full queue drops the event
// for that action with an error log rather than stalling the monitor.
func (d *Dispatcher) Submit(ev detection.Event) {
	d.mu.Lock()
	queues := d.queues
	d.mu.Unlock()

	for i, queue := range queues {
		select {
		case queue <- ev:
		default:
			d.log.Error("action queue full, dropping event",
				"action", d.actions[i].Description(),
				"event", ev.Type.String())
		}
	}
}

// Stop closes the queues and waits for the workers to drain them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()

	for _, queue := range queues {
		close(queue)
	}
	d.wg.Wait()
}
