package actuator

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// restoreBrightness is the fallback level Restore returns the display to
// when the current level could not be read before dimming.
const restoreBrightness = 1.0

// newScreenController returns the platform-native brightness backend.
func newScreenController(runner commandRunner) ScreenController {
	switch runtime.GOOS {
	case "darwin":
		return &brightnessScreen{runner: runner, prev: restoreBrightness}
	case "linux":
		return &brightnessctlScreen{runner: runner, prev: restoreBrightness}
	case "windows":
		return &nircmdScreen{runner: runner}
	default:
		return &noopScreen{}
	}
}

// brightnessScreen drives the macOS display through the brightness CLI.
// The current level is captured before dimming so Restore can return to it.
type brightnessScreen struct {
	runner commandRunner
	prev   float64
}

func (s *brightnessScreen) Dim(ctx context.Context, brightness float64) error {
	s.prev = restoreBrightness
	if out, err := s.runner.Output(ctx, "brightness", "-l"); err == nil {
		if v, ok := parseDarwinBrightness(out); ok {
			s.prev = v
		}
	}
	return s.runner.Run(ctx, "brightness", fmt.Sprintf("%.2f", brightness))
}

func (s *brightnessScreen) Restore(ctx context.Context) error {
	return s.runner.Run(ctx, "brightness", fmt.Sprintf("%.2f", s.prev))
}

// parseDarwinBrightness extracts the level from `brightness -l` output,
// which reports lines like "display 0: brightness 0.500000".
func parseDarwinBrightness(out string) (float64, bool) {
	for _, line := range strings.Split(out, "\n") {
		idx := strings.LastIndex(line, "brightness ")
		if idx < 0 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(line[idx+len("brightness "):]), 64)
		if err == nil && v >= 0 && v <= 1 {
			return v, true
		}
	}
	return 0, false
}

// brightnessctlScreen drives the Linux backlight through brightnessctl.
type brightnessctlScreen struct {
	runner commandRunner
	prev   float64
}

func (s *brightnessctlScreen) Dim(ctx context.Context, brightness float64) error {
	s.prev = restoreBrightness
	if v, ok := s.currentLevel(ctx); ok {
		s.prev = v
	}
	return s.runner.Run(ctx, "brightnessctl", "set", fmt.Sprintf("%.0f%%", brightness*100))
}

func (s *brightnessctlScreen) Restore(ctx context.Context) error {
	return s.runner.Run(ctx, "brightnessctl", "set", fmt.Sprintf("%.0f%%", s.prev*100))
}

// currentLevel reads the backlight as a 0..1 fraction of its maximum.
func (s *brightnessctlScreen) currentLevel(ctx context.Context) (float64, bool) {
	curOut, err := s.runner.Output(ctx, "brightnessctl", "get")
	if err != nil {
		return 0, false
	}
	maxOut, err := s.runner.Output(ctx, "brightnessctl", "max")
	if err != nil {
		return 0, false
	}
	cur, errCur := strconv.ParseFloat(strings.TrimSpace(curOut), 64)
	maxVal, errMax := strconv.ParseFloat(strings.TrimSpace(maxOut), 64)
	if errCur != nil || errMax != nil || maxVal <= 0 {
		return 0, false
	}
	return cur / maxVal, true
}

// nircmdScreen drives the Windows display through nircmd, which cannot
// report the current level; Restore always returns to full brightness.
type nircmdScreen struct {
	runner commandRunner
}

func (s *nircmdScreen) Dim(ctx context.Context, brightness float64) error {
	return s.runner.Run(ctx, "nircmd.exe", "setbrightness", fmt.Sprintf("%.0f", brightness*100))
}

func (s *nircmdScreen) Restore(ctx context.Context) error {
	return s.runner.Run(ctx, "nircmd.exe", "setbrightness", fmt.Sprintf("%.0f", restoreBrightness*100))
}

type noopScreen struct{}

func (*noopScreen) Dim(ctx context.Context, brightness float64) error { return nil }
func (*noopScreen) Restore(ctx context.Context) error                 { return nil }
