package monitor

import (
	"context"
	"log/slog"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/datastore"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/detection"
)

// DatabaseAction writes completed matches to the detection log.
type DatabaseAction struct {
	ds   datastore.Interface
	node string
}

// NewDatabaseAction creates an action persisting MatchEnd events.
func NewDatabaseAction(ds datastore.Interface, node string) *DatabaseAction {
	return &DatabaseAction{ds: ds, node: node}
}

// Execute saves the completed match. MatchStart events carry no duration
// yet, so only MatchEnd reaches the database.
func (a *DatabaseAction) Execute(ctx context.Context, ev detection.Event) error {
	if ev.Type != detection.MatchEnd {
		return nil
	}
	return a.ds.SaveDetection(datastore.RecordFromEvent(ev, a.node))
}

// Description identifies the action in logs.
func (a *DatabaseAction) Description() string {
	return "detection log writer"
}

// LogAction writes one structured log line per detection event.
type LogAction struct {
	log *slog.Logger
}

// NewLogAction creates an action logging every event.
func NewLogAction(log *slog.Logger) *LogAction {
	return &LogAction{log: log}
}

// Execute logs the event.
func (a *LogAction) Execute(ctx context.Context, ev detection.Event) error {
	switch ev.Type {
	case detection.MatchStart:
		a.log.Info("commercial start",
			"pattern", ev.PatternID,
			"score", ev.Score)
	case detection.MatchEnd:
		a.log.Info("commercial end",
			"pattern", ev.PatternID,
			"duration_seconds", ev.Duration.Seconds())
	}
	return nil
}

// Description identifies the action in logs.
func (a *LogAction) Description() string {
	return "event logger"
}
