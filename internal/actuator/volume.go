package actuator

import (
	"context"
	"runtime"
)

// newVolumeController returns the platform-native volume backend. The
// noop backend is used on platforms without a known control tool so the
// monitor still runs there.
func newVolumeController(runner commandRunner) VolumeController {
	switch runtime.GOOS {
	case "darwin":
		return &osascriptVolume{runner: runner}
	case "linux":
		return &pactlVolume{runner: runner}
	case "windows":
		return &nircmdVolume{runner: runner}
	default:
		return &noopVolume{}
	}
}

// osascriptVolume drives the macOS output volume through AppleScript.
type osascriptVolume struct {
	runner commandRunner
}

func (v *osascriptVolume) Mute(ctx context.Context) error {
	return v.runner.Run(ctx, "osascript", "-e", "set volume output muted true")
}

func (v *osascriptVolume) Unmute(ctx context.Context) error {
	return v.runner.Run(ctx, "osascript", "-e", "set volume output muted false")
}

// pactlVolume mutes the default PulseAudio/PipeWire sink.
type pactlVolume struct {
	runner commandRunner
}

func (v *pactlVolume) Mute(ctx context.Context) error {
	return v.runner.Run(ctx, "pactl", "set-sink-mute", "@DEFAULT_SINK@", "1")
}

func (v *pactlVolume) Unmute(ctx context.Context) error {
	return v.runner.Run(ctx, "pactl", "set-sink-mute", "@DEFAULT_SINK@", "0")
}

// nircmdVolume drives the Windows system volume through nircmd.
type nircmdVolume struct {
	runner commandRunner
}

func (v *nircmdVolume) Mute(ctx context.Context) error {
	return v.runner.Run(ctx, "nircmd.exe", "mutesysvolume", "1")
}

func (v *nircmdVolume) Unmute(ctx context.Context) error {
	return v.runner.Run(ctx, "nircmd.exe", "mutesysvolume", "0")
}

type noopVolume struct{}

func (*noopVolume) Mute(ctx context.Context) error   { return nil }
func (*noopVolume) Unmute(ctx context.Context) error { return nil }
