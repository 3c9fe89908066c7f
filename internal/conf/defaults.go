package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values for each configuration parameter.
// Every key present in the embedded config.yaml has a matching default here
// so a partial user config still unmarshals into a complete Settings.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main settings
	viper.SetDefault("main.name", "CMMuter")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/monitor.log")

	// Audio settings
	viper.SetDefault("audio.source", "sysdefault")
	viper.SetDefault("audio.sample_rate", DefaultSampleRate)
	viper.SetDefault("audio.channels", DefaultChannels)
	viper.SetDefault("audio.chunk_size", DefaultChunkSize)

	// Pattern catalogue
	viper.SetDefault("patterns.directory", "data/cm_patterns")

	// Detection settings
	viper.SetDefault("detection.match_threshold", 0.8)
	viper.SetDefault("detection.silence_threshold", 0.01)
	viper.SetDefault("detection.confirm_ticks", 3)
	viper.SetDefault("detection.cooldown_window", 2.0)
	viper.SetDefault("detection.stall_timeout", 5.0)
	viper.SetDefault("detection.read_retries", 3)

	// Recording
	viper.SetDefault("record.duration", 15.0)

	// Actuators
	viper.SetDefault("actuator.mute.enabled", true)
	viper.SetDefault("actuator.dim.enabled", false)
	viper.SetDefault("actuator.dim.brightness", 0.1)

	// Outputs
	viper.SetDefault("output.sqlite.enabled", false)
	viper.SetDefault("output.sqlite.path", "data/detections.db")

	// Realtime integrations
	viper.SetDefault("realtime.telemetry.enabled", false)
	viper.SetDefault("realtime.telemetry.listen", "0.0.0.0:8090")
	viper.SetDefault("realtime.mqtt.enabled", false)
	viper.SetDefault("realtime.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("realtime.mqtt.topic", "cmmuter/detections")
	viper.SetDefault("realtime.mqtt.username", "")
	viper.SetDefault("realtime.mqtt.password", "")
}
