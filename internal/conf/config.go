// config.go: settings struct and functions to load, access and save the
// application configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// AudioSettings contains settings for the capture device and analysis window.
type AudioSettings struct {
	Source     string `yaml:"source"`      // capture device name or ID ("sysdefault", "BlackHole", ...)
	SampleRate int    `yaml:"sample_rate"` // capture sample rate in Hz
	Channels   int    `yaml:"channels"`    // capture channel count
	ChunkSize  int    `yaml:"chunk_size"`  // samples per analysis window, must be a power of two
}

// PatternSettings contains settings for the reference pattern catalogue.
type PatternSettings struct {
	Directory string `yaml:"directory"` // directory holding reference WAV recordings
}

// DetectionSettings contains the thresholds and timing knobs of the
// detection state machine.
type DetectionSettings struct {
	MatchThreshold   float64 `yaml:"match_threshold"`   // similarity required for a qualifying tick, 0.0-1.0
	SilenceThreshold float64 `yaml:"silence_threshold"` // RMS level below which a window counts as silence
	ConfirmTicks     int     `yaml:"confirm_ticks"`     // consecutive qualifying ticks before MatchStart
	CooldownWindow   float64 `yaml:"cooldown_window"`   // seconds a score dip is tolerated before MatchEnd
	StallTimeout     float64 `yaml:"stall_timeout"`     // seconds without audio before forcing idle
	ReadRetries      int     `yaml:"read_retries"`      // transient read errors tolerated before a stall
}

// RecordSettings contains settings for capturing new reference patterns.
type RecordSettings struct {
	Duration float64 `yaml:"duration"` // seconds to record for a new pattern
}

// MuteSettings controls the system volume actuator.
type MuteSettings struct {
	Enabled bool `yaml:"enabled"`
}

// DimSettings controls the screen brightness actuator.
type DimSettings struct {
	Enabled    bool    `yaml:"enabled"`
	Brightness float64 `yaml:"brightness"` // brightness while dimmed, 0.0-1.0
}

// ActuatorSettings groups the actuator toggles.
type ActuatorSettings struct {
	Mute MuteSettings `yaml:"mute"`
	Dim  DimSettings  `yaml:"dim"`
}

// SQLiteSettings contains the detection log database settings.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// OutputSettings contains settings for persisted outputs.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
}

// TelemetrySettings contains the Prometheus endpoint settings.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // address and port, e.g. "0.0.0.0:8090"
}

// MQTTSettings contains the optional detection event publisher settings.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // tcp://host:port
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RealtimeSettings contains settings active while monitoring.
type RealtimeSettings struct {
	Telemetry TelemetrySettings `yaml:"telemetry"`
	MQTT      MQTTSettings      `yaml:"mqtt"`
}

// LogConfig contains the monitor log file settings.
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MainSettings contains node level settings.
type MainSettings struct {
	Name string    `yaml:"name"` // name of this node, used in logs and MQTT payloads
	Log  LogConfig `yaml:"log"`
}

// Settings is the root of the application configuration.
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug level logging

	Main      MainSettings      `yaml:"main"`
	Audio     AudioSettings     `yaml:"audio"`
	Patterns  PatternSettings   `yaml:"patterns"`
	Detection DetectionSettings `yaml:"detection"`
	Record    RecordSettings    `yaml:"record"`
	Actuator  ActuatorSettings  `yaml:"actuator"`
	Output    OutputSettings    `yaml:"output"`
	Realtime  RealtimeSettings  `yaml:"realtime"`
}

// TickInterval returns the duration of one analysis window, which is also
// the monitor's tick period.
func (s *Settings) TickInterval() time.Duration {
	if s.Audio.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.Audio.ChunkSize) / float64(s.Audio.SampleRate) * float64(time.Second))
}

// ChunkBytes returns the size of one analysis window in bytes of S16LE PCM.
func (s *Settings) ChunkBytes() int {
	return s.Audio.ChunkSize * s.Audio.Channels * (BitDepth / 8)
}

// CooldownDuration returns the cooldown window as a duration.
func (s *Settings) CooldownDuration() time.Duration {
	return time.Duration(s.Detection.CooldownWindow * float64(time.Second))
}

// StallDuration returns the stall timeout as a duration.
func (s *Settings) StallDuration() time.Duration {
	return time.Duration(s.Detection.StallTimeout * float64(time.Second))
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	// Initialize viper and read config
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal the config into settings
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	// Validate settings
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveSettings saves the current settings to the configuration file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	settingsCopy := *settingsInstance

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file first so the update is atomic
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary config file: %w", err)
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("error writing temporary config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error closing temporary config file: %w", err)
	}

	if err := os.Rename(tempName, configPath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}

// FindConfigFile returns the path of the config file currently in use.
func FindConfigFile() (string, error) {
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range configPaths {
		candidate := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("config file not found in default paths")
}

// GetDefaultConfigPaths returns the list of directories searched for the
// config file, in priority order: current directory first, then the user
// config directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}

	userConfig, err := os.UserConfigDir()
	if err != nil {
		return paths, nil //nolint:nilerr // fall back to current directory only
	}
	paths = append(paths, filepath.Join(userConfig, "cm-muter"))

	return paths, nil
}
