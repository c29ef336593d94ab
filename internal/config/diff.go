package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// fields carry their new values; every other changed section lands in
// RestartNeeded.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADChanged bool
	NewVAD     VADConfig

	BargeInChanged bool
	NewBargeIn     BargeInConfig

	// Wake threshold and ack tone apply live; backend, server, and model
	// changes need a restart and show up in RestartNeeded instead.
	WakeTuningChanged bool
	NewWakeThreshold  float64
	NewWakeAck        bool

	// RestartNeeded names the changed sections that only take effect on
	// the next start, so the reload log can say which edits did nothing yet.
	RestartNeeded []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if old.BargeIn != new.BargeIn {
		d.BargeInChanged = true
		d.NewBargeIn = new.BargeIn
	}

	if old.Wake.Threshold != new.Wake.Threshold || old.Wake.AckEnabled != new.Wake.AckEnabled {
		d.WakeTuningChanged = true
		d.NewWakeThreshold = new.Wake.Threshold
		d.NewWakeAck = new.Wake.AckEnabled
	}

	if old.Admin != new.Admin {
		d.RestartNeeded = append(d.RestartNeeded, "admin")
	}
	if old.Audio != new.Audio {
		d.RestartNeeded = append(d.RestartNeeded, "audio")
	}
	if old.Wake.Backend != new.Wake.Backend || old.Wake.ServerURL != new.Wake.ServerURL || old.Wake.Model != new.Wake.Model {
		d.RestartNeeded = append(d.RestartNeeded, "wake")
	}
	if old.Recording != new.Recording {
		d.RestartNeeded = append(d.RestartNeeded, "recording")
	}
	if old.Routing != new.Routing {
		d.RestartNeeded = append(d.RestartNeeded, "routing")
	}
	if !sttEqual(old.STT, new.STT) {
		d.RestartNeeded = append(d.RestartNeeded, "stt")
	}
	if !ttsEqual(old.TTS, new.TTS) {
		d.RestartNeeded = append(d.RestartNeeded, "tts")
	}
	if !llmEqual(old.LLM, new.LLM) {
		d.RestartNeeded = append(d.RestartNeeded, "llm")
	}
	if old.Features != new.Features {
		d.RestartNeeded = append(d.RestartNeeded, "features")
	}
	if old.Solar != new.Solar {
		d.RestartNeeded = append(d.RestartNeeded, "solar")
	}
	if old.Media != new.Media {
		d.RestartNeeded = append(d.RestartNeeded, "media")
	}
	if old.Postgres != new.Postgres {
		d.RestartNeeded = append(d.RestartNeeded, "postgres")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartNeeded = append(d.RestartNeeded, "telemetry")
	}
	if !mcpEqual(old.MCP.Servers, new.MCP.Servers) {
		d.RestartNeeded = append(d.RestartNeeded, "mcp")
	}

	return d
}

// sttEqual compares two stt blocks by value; the fallback pointer is
// followed so two loads of the same file read as equal.
func sttEqual(a, b STTConfig) bool {
	af, bf := a.Fallback, b.Fallback
	a.Fallback, b.Fallback = nil, nil
	if a != b {
		return false
	}
	if af == nil || bf == nil {
		return af == bf
	}
	return sttEqual(*af, *bf)
}

func ttsEqual(a, b TTSConfig) bool {
	af, bf := a.Fallback, b.Fallback
	a.Fallback, b.Fallback = nil, nil
	if a != b {
		return false
	}
	if af == nil || bf == nil {
		return af == bf
	}
	return ttsEqual(*af, *bf)
}

func llmEqual(a, b LLMConfig) bool {
	af, bf := a.Fallback, b.Fallback
	a.Fallback, b.Fallback = nil, nil
	if a != b {
		return false
	}
	if af == nil || bf == nil {
		return af == bf
	}
	return llmEqual(*af, *bf)
}

// mcpEqual compares server lists field by field; MCPServerConfig holds a map
// so == is not available.
func mcpEqual(a, b []MCPServerConfig) bool {
	return slices.EqualFunc(a, b, func(x, y MCPServerConfig) bool {
		return x.Name == y.Name &&
			x.Transport == y.Transport &&
			x.Command == y.Command &&
			x.URL == y.URL &&
			maps.Equal(x.Env, y.Env)
	})
}
