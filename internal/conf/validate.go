package conf

import (
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
)

// ValidateSettings checks the loaded settings for values the pipeline cannot
// run with. Configuration errors are fatal at startup; the system never
// silently coerces a rate or window mismatch.
func ValidateSettings(settings *Settings) error {
	if settings.Audio.SampleRate <= 0 {
		return configError("audio.sample_rate must be positive, got %d", settings.Audio.SampleRate)
	}

	if settings.Audio.Channels != 1 && settings.Audio.Channels != 2 {
		return configError("audio.channels must be 1 or 2, got %d", settings.Audio.Channels)
	}

	if settings.Audio.ChunkSize <= 0 || !isPowerOfTwo(settings.Audio.ChunkSize) {
		return configError("audio.chunk_size must be a power of two, got %d", settings.Audio.ChunkSize)
	}

	if t := settings.Detection.MatchThreshold; t < 0.0 || t > 1.0 {
		return configError("detection.match_threshold must be within 0.0-1.0, got %g", t)
	}

	if t := settings.Detection.SilenceThreshold; t < 0.0 || t >= 1.0 {
		return configError("detection.silence_threshold must be within 0.0-1.0, got %g", t)
	}

	if settings.Detection.ConfirmTicks < 1 {
		return configError("detection.confirm_ticks must be at least 1, got %d", settings.Detection.ConfirmTicks)
	}

	if settings.Detection.CooldownWindow < 0 {
		return configError("detection.cooldown_window must not be negative, got %g", settings.Detection.CooldownWindow)
	}

	if settings.Detection.StallTimeout <= 0 {
		return configError("detection.stall_timeout must be positive, got %g", settings.Detection.StallTimeout)
	}

	// A stall timeout shorter than one tick would flag every blocking read
	// as a stall.
	if settings.StallDuration() <= settings.TickInterval() {
		return configError("detection.stall_timeout %gs must exceed one tick interval (%s)",
			settings.Detection.StallTimeout, settings.TickInterval())
	}

	if settings.Detection.ReadRetries < 0 {
		return configError("detection.read_retries must not be negative, got %d", settings.Detection.ReadRetries)
	}

	if settings.Record.Duration <= 0 {
		return configError("record.duration must be positive, got %g", settings.Record.Duration)
	}

	if b := settings.Actuator.Dim.Brightness; b < 0.0 || b > 1.0 {
		return configError("actuator.dim.brightness must be within 0.0-1.0, got %g", b)
	}

	return nil
}

func configError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Build()
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
