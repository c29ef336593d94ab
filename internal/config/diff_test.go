package config_test

import (
	"slices"
	"testing"

	"github.com/hearthware/auricle/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.VADChanged || d.BargeInChanged || d.WakeTuningChanged {
		t.Errorf("expected no hot changes for identical configs, got %+v", d)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("expected empty RestartNeeded, got %v", d.RestartNeeded)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Log.Level = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("log level is hot, RestartNeeded should be empty, got %v", d.RestartNeeded)
	}
}

func TestDiff_VADChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.VAD.ThresholdRMS = 650

	d := config.Diff(old, new)
	if !d.VADChanged {
		t.Error("expected VADChanged=true")
	}
	if d.NewVAD.ThresholdRMS != 650 {
		t.Errorf("expected NewVAD.ThresholdRMS=650, got %g", d.NewVAD.ThresholdRMS)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("vad is hot, RestartNeeded should be empty, got %v", d.RestartNeeded)
	}
}

func TestDiff_BargeInChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.BargeIn.Policy = config.BargeInEnergy

	d := config.Diff(old, new)
	if !d.BargeInChanged {
		t.Error("expected BargeInChanged=true")
	}
	if d.NewBargeIn.Policy != config.BargeInEnergy {
		t.Errorf("expected NewBargeIn.Policy=energy, got %q", d.NewBargeIn.Policy)
	}
}

func TestDiff_WakeTuningIsHot(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Wake.Threshold = 0.65
	new.Wake.AckEnabled = false

	d := config.Diff(old, new)
	if !d.WakeTuningChanged {
		t.Error("expected WakeTuningChanged=true")
	}
	if d.NewWakeThreshold != 0.65 {
		t.Errorf("expected NewWakeThreshold=0.65, got %g", d.NewWakeThreshold)
	}
	if d.NewWakeAck {
		t.Error("expected NewWakeAck=false")
	}
	if slices.Contains(d.RestartNeeded, "wake") {
		t.Errorf("threshold and ack are hot, RestartNeeded should not list wake, got %v", d.RestartNeeded)
	}
}

func TestDiff_WakeBackendNeedsRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Wake.ServerURL = "ws://10.0.0.5:9002/ws"

	d := config.Diff(old, new)
	if d.WakeTuningChanged {
		t.Error("expected WakeTuningChanged=false for a server change")
	}
	if !slices.Contains(d.RestartNeeded, "wake") {
		t.Errorf("expected RestartNeeded to list wake, got %v", d.RestartNeeded)
	}
}

func TestDiff_RestartSections(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.STT.ServerURL = "http://10.0.0.5:8080"
	new.LLM.Model = "claude-sonnet-4-20250514"
	new.Features.Media = true

	d := config.Diff(old, new)
	for _, want := range []string{"stt", "llm", "features"} {
		if !slices.Contains(d.RestartNeeded, want) {
			t.Errorf("expected RestartNeeded to list %s, got %v", want, d.RestartNeeded)
		}
	}
	if slices.Contains(d.RestartNeeded, "tts") {
		t.Errorf("tts did not change, got %v", d.RestartNeeded)
	}
}

func TestDiff_MCPServerAdded(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.MCP.Servers = []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/usr/local/bin/mcp-tools"},
	}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartNeeded, "mcp") {
		t.Errorf("expected RestartNeeded to list mcp, got %v", d.RestartNeeded)
	}
}

func TestDiff_MCPEnvChangeDetected(t *testing.T) {
	t.Parallel()
	old := config.Default()
	old.MCP.Servers = []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/usr/local/bin/mcp-tools", Env: map[string]string{"MODE": "a"}},
	}
	new := config.Default()
	new.MCP.Servers = []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/usr/local/bin/mcp-tools", Env: map[string]string{"MODE": "b"}},
	}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartNeeded, "mcp") {
		t.Errorf("expected env change to register, got %v", d.RestartNeeded)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Log.Level = config.LogWarn
	new.VAD.HangoverMs = 1200
	new.TTS.Voice = "21"

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.VADChanged {
		t.Error("expected VADChanged=true")
	}
	if !slices.Contains(d.RestartNeeded, "tts") {
		t.Errorf("expected RestartNeeded to list tts, got %v", d.RestartNeeded)
	}
}

func TestDiff_EqualFallbacksAreNotAChange(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	// Distinct pointers to identical blocks, as two loads of one file give.
	old.STT.Fallback = &config.STTConfig{Backend: config.STTMock}
	new.STT.Fallback = &config.STTConfig{Backend: config.STTMock}

	d := config.Diff(old, new)
	if slices.Contains(d.RestartNeeded, "stt") {
		t.Errorf("identical stt fallbacks flagged as a change: %v", d.RestartNeeded)
	}
}

func TestDiff_FallbackChangeNeedsRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.TTS.Fallback = &config.TTSConfig{Backend: config.TTSMock}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartNeeded, "tts") {
		t.Errorf("added tts fallback not flagged, got %v", d.RestartNeeded)
	}
}
