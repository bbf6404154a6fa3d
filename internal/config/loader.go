package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, merges it over [Default] and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the
// result. Unknown fields are rejected so typos fail loudly instead of
// silently keeping a default.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for hard errors and normalizes soft
// ones. Out-of-range silence durations are clamped with a warning rather
// than rejected.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("config: server.listen_addr must not be empty"))
	}
	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}

	if c.Realtime.APIKeyEnv == "" {
		errs = append(errs, errors.New("config: realtime.api_key_env must not be empty"))
	}
	if c.Realtime.Model == "" {
		errs = append(errs, errors.New("config: realtime.model must not be empty"))
	}
	if !slices.Contains(ValidVoices, c.Realtime.Voice) {
		errs = append(errs, fmt.Errorf("config: realtime.voice %q is not one of %v", c.Realtime.Voice, ValidVoices))
	}
	if c.Realtime.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("config: realtime.reconnect_attempts must not be negative, got %d", c.Realtime.ReconnectAttempts))
	}
	if c.Realtime.ReconnectDelay < 0 {
		errs = append(errs, errors.New("config: realtime.reconnect_delay must not be negative"))
	}
	if c.Realtime.PingInterval <= 0 {
		errs = append(errs, errors.New("config: realtime.ping_interval must be positive"))
	}
	if c.Realtime.MaxBufferBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: realtime.max_buffer_bytes must be positive, got %d", c.Realtime.MaxBufferBytes))
	}

	if c.VAD.Threshold <= 0 || c.VAD.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("config: vad.threshold must be in (0, 1), got %g", c.VAD.Threshold))
	}
	if c.VAD.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("config: vad.window_size must be positive, got %d", c.VAD.WindowSize))
	}
	if d := c.VAD.SilenceDuration.Std(); d < MinSilenceDuration {
		slog.Warn("config: vad.silence_duration below minimum, clamping",
			slog.Duration("requested", d),
			slog.Duration("minimum", MinSilenceDuration))
		c.VAD.SilenceDuration = Duration(MinSilenceDuration)
	} else if d > MaxSilenceDuration {
		slog.Warn("config: vad.silence_duration above maximum, clamping",
			slog.Duration("requested", d),
			slog.Duration("maximum", MaxSilenceDuration))
		c.VAD.SilenceDuration = Duration(MaxSilenceDuration)
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Audio.BitDepth != 16 {
		errs = append(errs, fmt.Errorf("config: audio.bit_depth must be 16, got %d", c.Audio.BitDepth))
	}
	if c.Audio.ChunkSamples <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.chunk_samples must be positive, got %d", c.Audio.ChunkSamples))
	}
	if c.Audio.DeviceChannels < 1 || c.Audio.DeviceChannels > 2 {
		errs = append(errs, fmt.Errorf("config: audio.device_channels must be 1 or 2, got %d", c.Audio.DeviceChannels))
	}

	if c.Session.MaxDuration <= 0 {
		errs = append(errs, errors.New("config: session.max_duration must be positive"))
	}
	if c.Session.BreakAfter < 0 {
		errs = append(errs, errors.New("config: session.break_after must not be negative"))
	}

	return errors.Join(errs...)
}
