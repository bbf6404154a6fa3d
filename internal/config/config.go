// Package config provides the configuration schema and loader for the
// voxfacile server. Configuration is an explicit object handed to
// constructors, never a process-wide mutable singleton; runtime changes go
// through the [Watcher].
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Voices the realtime service can synthesise.
var ValidVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Silence-duration bounds. Values outside are clamped, not rejected: a
// too-short debounce chops words, a too-long one makes turn-taking sluggish.
const (
	MinSilenceDuration = 200 * time.Millisecond
	MaxSilenceDuration = 2000 * time.Millisecond
)

// Config is the root configuration, typically loaded from a YAML file via
// [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	VAD      VADConfig      `yaml:"vad"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	Script   ScriptConfig   `yaml:"script"`
	Debug    DebugConfig    `yaml:"debug"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RealtimeConfig holds the connection settings for the realtime speech
// service.
type RealtimeConfig struct {
	// URL is the realtime endpoint base URL. Empty means the service
	// default.
	URL string `yaml:"url"`

	// APIKeyEnv names the environment variable holding the API key. The
	// key itself never lives in the config file.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model selects the realtime model.
	Model string `yaml:"model"`

	// Voice is the synthesised voice identifier.
	Voice string `yaml:"voice"`

	// ReconnectAttempts is the retry budget after an unexpected close.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay Duration `yaml:"reconnect_delay"`

	// PingInterval is the keep-alive ping period.
	PingInterval Duration `yaml:"ping_interval"`

	// MaxBufferBytes bounds the outgoing audio queue.
	MaxBufferBytes int `yaml:"max_buffer_bytes"`
}

// VADConfig tunes local voice activity detection.
type VADConfig struct {
	// Threshold is the normalized energy above which a frame counts as
	// speech, in (0, 1).
	Threshold float64 `yaml:"threshold"`

	// SilenceDuration is the continuous sub-threshold time ending an
	// utterance. Clamped to [MinSilenceDuration, MaxSilenceDuration].
	SilenceDuration Duration `yaml:"silence_duration"`

	// WindowSize is the rolling energy window capacity.
	WindowSize int `yaml:"window_size"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`

	// ChunkSamples is the number of samples per captured frame.
	ChunkSamples int `yaml:"chunk_samples"`

	// DeviceChannels is the local input device's channel count. Stereo
	// devices are downmixed to the pipeline's mono format.
	DeviceChannels int `yaml:"device_channels"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// MaxDuration caps a session's total length.
	MaxDuration Duration `yaml:"max_duration"`

	// BreakAfter raises a break reminder once elapsed. Zero disables it.
	BreakAfter Duration `yaml:"break_after"`

	// RecordDir, when set, stores a WAV recording per session.
	RecordDir string `yaml:"record_dir"`
}

// ScriptConfig selects the facilitation outline.
type ScriptConfig struct {
	// OutlinePath points to a YAML outline. Empty means the built-in one.
	OutlinePath string `yaml:"outline_path"`
}

// DebugConfig toggles development aids.
type DebugConfig struct {
	// Enabled turns on verbose frame-level logging.
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with production defaults. Loading merges the
// file's values over these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Realtime: RealtimeConfig{
			APIKeyEnv:         "OPENAI_API_KEY",
			Model:             "gpt-4o-realtime-preview",
			Voice:             "alloy",
			ReconnectAttempts: 3,
			ReconnectDelay:    Duration(time.Second),
			PingInterval:      Duration(30 * time.Second),
			MaxBufferBytes:    1 << 20,
		},
		VAD: VADConfig{
			Threshold:       0.2,
			SilenceDuration: Duration(500 * time.Millisecond),
			WindowSize:      30,
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			Channels:       1,
			BitDepth:       16,
			ChunkSamples:   4096,
			DeviceChannels: 1,
		},
		Session: SessionConfig{
			MaxDuration: Duration(4 * time.Hour),
			BreakAfter:  Duration(90 * time.Minute),
		},
	}
}
