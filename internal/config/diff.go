package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without restarting the server are tracked; everything else
// (listen address, realtime connection, audio format) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is set when any detector tuning field changed.
	VADChanged bool
	NewVAD     VADConfig

	DebugChanged bool
	NewDebug     bool
}

// Any reports whether the diff contains at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.VADChanged || d.DebugChanged
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply to a running session.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if old.Debug.Enabled != new.Debug.Enabled {
		d.DebugChanged = true
		d.NewDebug = new.Debug.Enabled
	}

	return d
}
