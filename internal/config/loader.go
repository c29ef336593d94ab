package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hearthware/auricle/internal/tools"
	"github.com/hearthware/auricle/pkg/audio"
)

// Load reads, parses, and validates the YAML configuration at path. Keys
// absent from the file keep the [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses and validates YAML configuration from r. Unknown
// keys are rejected so typos surface at startup instead of silently keeping
// a default. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for hard errors and returns them all
// joined, so a broken file reports every problem in one run. Suspicious but
// workable combinations are logged as warnings instead.
func (c *Config) Validate() error {
	var errs []error

	if !c.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level: invalid value %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if c.Admin.ListenAddr == "" {
		errs = append(errs, errors.New("admin.listen_addr: must not be empty"))
	}

	if !c.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend: invalid value %q (valid: portaudio, mock)", c.Audio.Backend))
	}
	if c.Audio.SampleRate != audio.SampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate: must be %d, got %d", audio.SampleRate, c.Audio.SampleRate))
	}
	if c.Audio.ChunkSamples <= 0 || c.Audio.ChunkSamples > audio.SampleRate {
		errs = append(errs, fmt.Errorf("audio.chunk_samples: must be in 1..%d, got %d", audio.SampleRate, c.Audio.ChunkSamples))
	}
	if c.Audio.InputDevice < -1 {
		errs = append(errs, fmt.Errorf("audio.input_device: must be a device index or -1 for default, got %d", c.Audio.InputDevice))
	}
	if c.Audio.OutputDevice < -1 {
		errs = append(errs, fmt.Errorf("audio.output_device: must be a device index or -1 for default, got %d", c.Audio.OutputDevice))
	}
	if c.Audio.CaptureTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_timeout_ms: must be positive, got %d", c.Audio.CaptureTimeoutMs))
	}

	if !c.Wake.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("wake.backend: invalid value %q (valid: oww, mock)", c.Wake.Backend))
	}
	if c.Wake.Backend == WakeOWW && c.Wake.ServerURL == "" {
		errs = append(errs, errors.New("wake.server_url: required for the oww backend"))
	}
	if c.Wake.Threshold <= 0 || c.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake.threshold: must be in (0, 1], got %g", c.Wake.Threshold))
	}

	if c.VAD.ThresholdRMS <= 0 {
		errs = append(errs, fmt.Errorf("vad.threshold_rms: must be positive, got %g", c.VAD.ThresholdRMS))
	}
	if c.VAD.HangoverMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_ms: must be positive, got %d", c.VAD.HangoverMs))
	}
	if c.VAD.MinSpeechMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms: must be positive, got %d", c.VAD.MinSpeechMs))
	}

	if c.Recording.MaxDurationS <= 0 {
		errs = append(errs, fmt.Errorf("recording.max_duration_s: must be positive, got %d", c.Recording.MaxDurationS))
	}
	if c.Recording.FixedDurationS <= 0 {
		errs = append(errs, fmt.Errorf("recording.fixed_duration_s: must be positive, got %d", c.Recording.FixedDurationS))
	} else if c.Recording.MaxDurationS > 0 && c.Recording.FixedDurationS > c.Recording.MaxDurationS {
		errs = append(errs, fmt.Errorf("recording.fixed_duration_s: must not exceed recording.max_duration_s (%d), got %d", c.Recording.MaxDurationS, c.Recording.FixedDurationS))
	}
	if c.Recording.FollowUpWindowS < 0 {
		errs = append(errs, fmt.Errorf("recording.follow_up_window_s: must not be negative, got %d", c.Recording.FollowUpWindowS))
	}

	if c.Routing.TimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("routing.timeout_s: must be positive, got %d", c.Routing.TimeoutS))
	}

	if !c.BargeIn.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("bargein.policy: invalid value %q (valid: off, wake, energy)", c.BargeIn.Policy))
	}
	if c.BargeIn.EnergyThresholdRMS <= 0 {
		errs = append(errs, fmt.Errorf("bargein.energy_threshold_rms: must be positive, got %g", c.BargeIn.EnergyThresholdRMS))
	}
	if c.BargeIn.EnergyChunks <= 0 {
		errs = append(errs, fmt.Errorf("bargein.energy_chunks: must be positive, got %d", c.BargeIn.EnergyChunks))
	}

	errs = append(errs, validateSTTBackend("stt", &c.STT)...)
	if f := c.STT.Fallback; f != nil {
		errs = append(errs, validateSTTBackend("stt.fallback", f)...)
		if f.Fallback != nil {
			errs = append(errs, errors.New("stt.fallback.fallback: only one fallback level is supported"))
		}
	}

	errs = append(errs, validateTTSBackend("tts", &c.TTS)...)
	if f := c.TTS.Fallback; f != nil {
		errs = append(errs, validateTTSBackend("tts.fallback", f)...)
		if f.Fallback != nil {
			errs = append(errs, errors.New("tts.fallback.fallback: only one fallback level is supported"))
		}
	}

	errs = append(errs, validateLLMBackend("llm", &c.LLM)...)
	if f := c.LLM.Fallback; f != nil {
		errs = append(errs, validateLLMBackend("llm.fallback", f)...)
		if f.Fallback != nil {
			errs = append(errs, errors.New("llm.fallback.fallback: only one fallback level is supported"))
		}
	}
	if c.LLM.MaxHistory <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_history: must be positive, got %d", c.LLM.MaxHistory))
	}
	if c.LLM.HistoryTTLS <= 0 {
		errs = append(errs, fmt.Errorf("llm.history_ttl_s: must be positive, got %d", c.LLM.HistoryTTLS))
	}

	if !c.Media.RadarrMode.IsValid() {
		errs = append(errs, fmt.Errorf("media.radarr_mode: invalid value %q (valid: live, mock, or empty)", c.Media.RadarrMode))
	}
	if !c.Media.SonarrMode.IsValid() {
		errs = append(errs, fmt.Errorf("media.sonarr_mode: invalid value %q (valid: live, mock, or empty)", c.Media.SonarrMode))
	}
	if c.Media.RadarrMode == MediaLive && c.Media.RadarrURL == "" {
		errs = append(errs, errors.New("media.radarr_url: required for the live backend"))
	}
	if c.Media.SonarrMode == MediaLive && c.Media.SonarrURL == "" {
		errs = append(errs, errors.New("media.sonarr_url: required for the live backend"))
	}
	if c.Features.Media {
		if c.Media.RadarrMode == MediaOff && c.Media.SonarrMode == MediaOff {
			errs = append(errs, errors.New("features.media: requires media.radarr_mode or media.sonarr_mode"))
		}
		if c.Media.DisambiguationTTLS <= 0 {
			errs = append(errs, fmt.Errorf("media.disambiguation_ttl_s: must be positive, got %d", c.Media.DisambiguationTTLS))
		}
	}
	if c.Features.Solar && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("features.solar: requires postgres.dsn (answers are read from the solar store)"))
	}

	if c.Solar.Enabled {
		if !c.Solar.Backend.IsValid() {
			errs = append(errs, fmt.Errorf("solar.backend: invalid value %q (valid: live, mock)", c.Solar.Backend))
		}
		if c.Solar.Backend == SolarLive {
			if c.Solar.GatewayHost == "" {
				errs = append(errs, errors.New("solar.gateway_host: required for the live backend"))
			}
			if c.Solar.Token == "" && (c.Solar.Email == "" || c.Solar.Password == "" || c.Solar.Serial == "") {
				errs = append(errs, errors.New("solar: requires token, or email, password, and serial for the token exchange"))
			}
		}
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("solar.enabled: requires postgres.dsn"))
		}
		if c.Solar.PollIntervalS <= 0 {
			errs = append(errs, fmt.Errorf("solar.poll_interval_s: must be positive, got %d", c.Solar.PollIntervalS))
		}
	}

	if c.Telemetry.Enabled && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("telemetry.enabled: requires postgres.dsn"))
	}
	if c.Telemetry.SemanticIndex {
		if !c.Telemetry.Enabled {
			errs = append(errs, errors.New("telemetry.semantic_index: requires telemetry.enabled"))
		}
		if !c.Telemetry.Embeddings.Backend.IsValid() {
			errs = append(errs, fmt.Errorf("telemetry.embeddings.backend: invalid value %q (valid: openai, ollama, mock)", c.Telemetry.Embeddings.Backend))
		}
		if c.Telemetry.Embeddings.Backend == EmbeddingsOpenAI && c.Telemetry.Embeddings.APIKeyEnv == "" {
			errs = append(errs, errors.New("telemetry.embeddings.api_key_env: required for the openai backend"))
		}
	}

	names := make(map[string]bool)
	for i, srv := range c.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name: must not be empty", prefix))
		} else if names[srv.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate name %q", prefix, srv.Name))
		}
		names[srv.Name] = true
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport: invalid value %q (valid: stdio, streamable-http)", prefix, srv.Transport))
			continue
		}
		switch srv.Transport {
		case tools.TransportStdio:
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command: required for stdio transport", prefix))
			}
		case tools.TransportStreamableHTTP:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url: required for streamable-http transport", prefix))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if c.Features.Solar && !c.Solar.Enabled {
		slog.Warn("config: features.solar is on but solar.enabled is off; answers will come from whatever the store already holds")
	}
	if c.Postgres.DSN != "" && !c.Features.Solar && !c.Solar.Enabled && !c.Telemetry.Enabled {
		slog.Warn("config: postgres.dsn is set but nothing uses it")
	}

	return nil
}

// validateSTTBackend checks the backend selection fields of one stt block;
// prefix names the block in error messages ("stt" or "stt.fallback").
func validateSTTBackend(prefix string, sc *STTConfig) []error {
	var errs []error
	if !sc.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("%s.backend: invalid value %q (valid: whisper_http, whisper_cgo, mock)", prefix, sc.Backend))
	}
	if sc.Backend == STTWhisperHTTP && sc.ServerURL == "" {
		errs = append(errs, fmt.Errorf("%s.server_url: required for the whisper_http backend", prefix))
	}
	if sc.Backend == STTWhisperCGO && sc.ModelPath == "" {
		errs = append(errs, fmt.Errorf("%s.model_path: required for the whisper_cgo backend", prefix))
	}
	return errs
}

// validateTTSBackend checks the backend selection fields of one tts block.
func validateTTSBackend(prefix string, tc *TTSConfig) []error {
	var errs []error
	if !tc.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("%s.backend: invalid value %q (valid: piper, mock)", prefix, tc.Backend))
	}
	if tc.Backend == TTSPiper && tc.ServerURL == "" {
		errs = append(errs, fmt.Errorf("%s.server_url: required for the piper backend", prefix))
	}
	return errs
}

// validateLLMBackend checks the backend selection fields of one llm block.
// History and prompt settings are primary-only and validated by the caller.
func validateLLMBackend(prefix string, lc *LLMConfig) []error {
	var errs []error
	if !lc.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("%s.backend: invalid value %q (valid: openai, anyllm, mock)", prefix, lc.Backend))
	}
	if lc.Backend == LLMAnyLLM && lc.Provider == "" {
		errs = append(errs, fmt.Errorf("%s.provider: required for the anyllm backend", prefix))
	}
	if (lc.Backend == LLMOpenAI || lc.Backend == LLMAnyLLM) && lc.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model: required for the %s backend", prefix, lc.Backend))
	}
	return errs
}
