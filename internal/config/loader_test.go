package config_test

import (
	"strings"
	"testing"

	"github.com/hearthware/auricle/internal/config"
)

func TestValidate_OWWRequiresServerURL(t *testing.T) {
	t.Parallel()
	yaml := `
wake:
  backend: oww
  server_url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for oww backend without server_url, got nil")
	}
	if !strings.Contains(err.Error(), "wake.server_url") {
		t.Errorf("error should mention wake.server_url, got: %v", err)
	}
}

func TestValidate_WhisperHTTPRequiresServerURL(t *testing.T) {
	t.Parallel()
	yaml := `
stt:
  backend: whisper_http
  server_url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for whisper_http backend without server_url, got nil")
	}
	if !strings.Contains(err.Error(), "stt.server_url") {
		t.Errorf("error should mention stt.server_url, got: %v", err)
	}
}

func TestValidate_WhisperCGORequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
stt:
  backend: whisper_cgo
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for whisper_cgo backend without model_path, got nil")
	}
	if !strings.Contains(err.Error(), "stt.model_path") {
		t.Errorf("error should mention stt.model_path, got: %v", err)
	}
}

func TestValidate_PiperRequiresServerURL(t *testing.T) {
	t.Parallel()
	yaml := `
tts:
  backend: piper
  server_url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for piper backend without server_url, got nil")
	}
	if !strings.Contains(err.Error(), "tts.server_url") {
		t.Errorf("error should mention tts.server_url, got: %v", err)
	}
}

func TestValidate_AnyLLMRequiresProvider(t *testing.T) {
	t.Parallel()
	yaml := `
llm:
  backend: anyllm
  provider: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for anyllm backend without provider, got nil")
	}
	if !strings.Contains(err.Error(), "llm.provider") {
		t.Errorf("error should mention llm.provider, got: %v", err)
	}
}

func TestValidate_FixedDurationExceedsMax(t *testing.T) {
	t.Parallel()
	yaml := `
recording:
  max_duration_s: 10
  fixed_duration_s: 20
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fixed duration above max, got nil")
	}
	if !strings.Contains(err.Error(), "fixed_duration_s") {
		t.Errorf("error should mention fixed_duration_s, got: %v", err)
	}
}

func TestValidate_MediaFeatureRequiresBackend(t *testing.T) {
	t.Parallel()
	yaml := `
features:
  media: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for media feature without radarr or sonarr mode, got nil")
	}
	if !strings.Contains(err.Error(), "features.media") {
		t.Errorf("error should mention features.media, got: %v", err)
	}
}

func TestValidate_MediaLiveRequiresURL(t *testing.T) {
	t.Parallel()
	yaml := `
media:
  radarr_mode: live
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for live radarr without url, got nil")
	}
	if !strings.Contains(err.Error(), "media.radarr_url") {
		t.Errorf("error should mention media.radarr_url, got: %v", err)
	}
}

func TestValidate_MediaInvalidMode(t *testing.T) {
	t.Parallel()
	yaml := `
media:
  sonarr_mode: cloud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid sonarr mode, got nil")
	}
	if !strings.Contains(err.Error(), "media.sonarr_mode") {
		t.Errorf("error should mention media.sonarr_mode, got: %v", err)
	}
}

func TestValidate_MockMediaNeedsNoURL(t *testing.T) {
	t.Parallel()
	yaml := `
features:
  media: true
media:
  radarr_mode: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error for mock media: %v", err)
	}
}

func TestValidate_SolarFeatureRequiresPostgres(t *testing.T) {
	t.Parallel()
	yaml := `
features:
  solar: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for solar feature without postgres.dsn, got nil")
	}
	if !strings.Contains(err.Error(), "postgres.dsn") {
		t.Errorf("error should mention postgres.dsn, got: %v", err)
	}
}

func TestValidate_SolarCollectorRequiresCredentials(t *testing.T) {
	t.Parallel()
	yaml := `
solar:
  enabled: true
  gateway_host: envoy.local
postgres:
  dsn: postgres://localhost/auricle
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for solar collector without token or login, got nil")
	}
	if !strings.Contains(err.Error(), "token") {
		t.Errorf("error should mention token, got: %v", err)
	}
}

func TestValidate_SolarCollectorWithTokenIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
solar:
  enabled: true
  gateway_host: envoy.local
  token: eyJhbGciOiJFUzI1NiJ9.payload.sig
postgres:
  dsn: postgres://localhost/auricle
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MockSolarNeedsNoGateway(t *testing.T) {
	t.Parallel()
	yaml := `
solar:
  enabled: true
  backend: mock
postgres:
  dsn: postgres://localhost/auricle
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error for mock solar: %v", err)
	}
}

func TestValidate_TelemetryRequiresPostgres(t *testing.T) {
	t.Parallel()
	yaml := `
telemetry:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for telemetry without postgres.dsn, got nil")
	}
	if !strings.Contains(err.Error(), "postgres.dsn") {
		t.Errorf("error should mention postgres.dsn, got: %v", err)
	}
}

func TestValidate_SemanticIndexRequiresTelemetry(t *testing.T) {
	t.Parallel()
	yaml := `
telemetry:
  semantic_index: true
  embeddings:
    backend: ollama
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for semantic_index without telemetry.enabled, got nil")
	}
	if !strings.Contains(err.Error(), "telemetry.enabled") {
		t.Errorf("error should mention telemetry.enabled, got: %v", err)
	}
}

func TestValidate_OpenAIEmbeddingsRequireAPIKeyEnv(t *testing.T) {
	t.Parallel()
	yaml := `
telemetry:
  enabled: true
  semantic_index: true
  embeddings:
    backend: openai
postgres:
  dsn: postgres://localhost/auricle
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for openai embeddings without api_key_env, got nil")
	}
	if !strings.Contains(err.Error(), "api_key_env") {
		t.Errorf("error should mention api_key_env, got: %v", err)
	}
}

func TestValidate_MockBackendsNeedNoEndpoints(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  backend: mock
wake:
  backend: mock
  server_url: ""
stt:
  backend: mock
  server_url: ""
tts:
  backend: mock
  server_url: ""
llm:
  backend: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error for all-mock config: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
log:
  level: loud
wake:
  threshold: 2
stt:
  backend: whisper_http
  server_url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log.level", "wake.threshold", "stt.server_url"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_FallbackBlocksAreChecked(t *testing.T) {
	t.Parallel()
	yaml := `
stt:
  backend: mock
  fallback:
    backend: whisper_http
tts:
  backend: mock
  fallback:
    backend: piper
llm:
  backend: mock
  fallback:
    backend: anyllm
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors for fallback blocks missing their endpoints, got nil")
	}
	for _, want := range []string{"stt.fallback.server_url", "tts.fallback.server_url", "llm.fallback.provider"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_FallbackChainsAreOneLevelDeep(t *testing.T) {
	t.Parallel()
	yaml := `
stt:
  backend: mock
  fallback:
    backend: mock
    fallback:
      backend: mock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for a nested fallback, got nil")
	}
	if !strings.Contains(err.Error(), "stt.fallback.fallback") {
		t.Errorf("error should mention stt.fallback.fallback, got: %v", err)
	}
}

func TestValidate_FallbackBlocksParse(t *testing.T) {
	t.Parallel()
	yaml := `
stt:
  backend: whisper_http
  server_url: http://127.0.0.1:8080
  fallback:
    backend: whisper_cgo
    model_path: /models/ggml-base.en.bin
tts:
  backend: piper
  server_url: http://127.0.0.1:5000
  fallback:
    backend: mock
llm:
  backend: openai
  model: gpt-4o-mini
  fallback:
    backend: anyllm
    provider: ollama
    model: llama3.2
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.STT.Fallback == nil || cfg.STT.Fallback.Backend != config.STTWhisperCGO {
		t.Errorf("stt fallback = %+v, want whisper_cgo", cfg.STT.Fallback)
	}
	if cfg.TTS.Fallback == nil || cfg.TTS.Fallback.Backend != config.TTSMock {
		t.Errorf("tts fallback = %+v, want mock", cfg.TTS.Fallback)
	}
	if cfg.LLM.Fallback == nil || cfg.LLM.Fallback.Provider != "ollama" {
		t.Errorf("llm fallback = %+v, want ollama provider", cfg.LLM.Fallback)
	}
}
