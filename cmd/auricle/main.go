// Command auricle is the voice assistant appliance daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hearthware/auricle/internal/app"
	"github.com/hearthware/auricle/internal/config"
	"github.com/hearthware/auricle/internal/observe"
	"github.com/hearthware/auricle/internal/resilience"
	"github.com/hearthware/auricle/internal/version"
	"github.com/hearthware/auricle/pkg/audio"
	audiomock "github.com/hearthware/auricle/pkg/audio/mock"
	"github.com/hearthware/auricle/pkg/audio/portaudio"
	"github.com/hearthware/auricle/pkg/provider/embeddings"
	embedmock "github.com/hearthware/auricle/pkg/provider/embeddings/mock"
	ollamaembed "github.com/hearthware/auricle/pkg/provider/embeddings/ollama"
	oaembed "github.com/hearthware/auricle/pkg/provider/embeddings/openai"
	"github.com/hearthware/auricle/pkg/provider/llm"
	"github.com/hearthware/auricle/pkg/provider/llm/anyllm"
	llmmock "github.com/hearthware/auricle/pkg/provider/llm/mock"
	"github.com/hearthware/auricle/pkg/provider/llm/openai"
	"github.com/hearthware/auricle/pkg/provider/stt"
	sttmock "github.com/hearthware/auricle/pkg/provider/stt/mock"
	"github.com/hearthware/auricle/pkg/provider/stt/whisper"
	"github.com/hearthware/auricle/pkg/provider/tts"
	ttsmock "github.com/hearthware/auricle/pkg/provider/tts/mock"
	"github.com/hearthware/auricle/pkg/provider/tts/piper"
	"github.com/hearthware/auricle/pkg/wake"
	wakemock "github.com/hearthware/auricle/pkg/wake/mock"
	"github.com/hearthware/auricle/pkg/wake/oww"
)

// mockWakeInterval is the chunk cadence at which the mock wake detector
// fires, roughly every two seconds of audio.
const mockWakeInterval = 25

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("devices", false, "list audio devices and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}
	if *listDevices {
		return printDevices()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auricle: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		}
		return 1
	}

	// The level var lets the config watcher change verbosity live.
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Log.Level.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("auricle starting",
		"version", version.Spoken(),
		"config", *configPath,
		"admin_addr", cfg.Admin.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "auricle",
		ServiceVersion: version.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry provider", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithConfigPath(*configPath),
		app.WithLogLevel(logLevel),
	)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	slog.Info("ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		shutdown(application)
		return 1
	}

	slog.Info("shutdown signal received, stopping")
	if err := shutdown(application); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func shutdown(application *app.App) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}

// buildProviders constructs one provider per configured backend.
func buildProviders(ctx context.Context, cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}
	var err error

	if ps.Device, err = buildDevice(cfg); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	if ps.Wake, err = buildWake(ctx, cfg); err != nil {
		return nil, fmt.Errorf("wake: %w", err)
	}
	if ps.STT, err = buildSTT(cfg); err != nil {
		return nil, fmt.Errorf("stt: %w", err)
	}
	if ps.TTS, err = buildTTS(cfg); err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	if ps.LLM, err = buildLLM(cfg); err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.SemanticIndex {
		if ps.Embeddings, err = buildEmbeddings(cfg); err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
	}

	return ps, nil
}

func buildDevice(cfg *config.Config) (audio.Device, error) {
	switch cfg.Audio.Backend {
	case config.AudioMock:
		return audiomock.NewDevice(), nil
	default:
		return portaudio.Open(portaudio.Config{
			InputDevice:  cfg.Audio.InputDevice,
			OutputDevice: cfg.Audio.OutputDevice,
			ChunkSamples: cfg.Audio.ChunkSamples,
		})
	}
}

func buildWake(ctx context.Context, cfg *config.Config) (wake.Detector, error) {
	switch cfg.Wake.Backend {
	case config.WakeMock:
		return wakemock.New(mockWakeInterval), nil
	default:
		var opts []oww.Option
		if cfg.Wake.Model != "" {
			opts = append(opts, oww.WithModel(cfg.Wake.Model))
		}
		if cfg.Wake.Threshold > 0 {
			opts = append(opts, oww.WithThreshold(cfg.Wake.Threshold))
		}
		return oww.Dial(ctx, cfg.Wake.ServerURL, opts...)
	}
}

// buildSTT assembles the transcriber, chaining the configured fallback
// behind the primary when one is present.
func buildSTT(cfg *config.Config) (stt.Transcriber, error) {
	primary, err := buildTranscriber(cfg.STT)
	if err != nil {
		return nil, err
	}
	fb := cfg.STT.Fallback
	if fb == nil {
		return primary, nil
	}
	secondary, err := buildTranscriber(*fb)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	chain := resilience.NewSTTFallback(primary, string(cfg.STT.Backend), resilience.FallbackConfig{})
	chain.AddFallback(string(fb.Backend), secondary)
	return chain, nil
}

func buildTranscriber(sc config.STTConfig) (stt.Transcriber, error) {
	switch sc.Backend {
	case config.STTMock:
		return &sttmock.Transcriber{Result: "this is a mock transcription"}, nil
	case config.STTWhisperCGO:
		var opts []whisper.NativeOption
		if sc.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(sc.Language))
		}
		return whisper.NewNative(sc.ModelPath, opts...)
	default:
		var opts []whisper.Option
		if sc.Language != "" {
			opts = append(opts, whisper.WithLanguage(sc.Language))
		}
		return whisper.New(sc.ServerURL, opts...)
	}
}

func buildTTS(cfg *config.Config) (tts.Synthesizer, error) {
	primary, err := buildSynthesizer(cfg.TTS)
	if err != nil {
		return nil, err
	}
	fb := cfg.TTS.Fallback
	if fb == nil {
		return primary, nil
	}
	secondary, err := buildSynthesizer(*fb)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	chain := resilience.NewTTSFallback(primary, string(cfg.TTS.Backend), resilience.FallbackConfig{})
	chain.AddFallback(string(fb.Backend), secondary)
	return chain, nil
}

func buildSynthesizer(tc config.TTSConfig) (tts.Synthesizer, error) {
	switch tc.Backend {
	case config.TTSMock:
		return &ttsmock.Synthesizer{}, nil
	default:
		var opts []piper.Option
		if tc.Voice != "" {
			opts = append(opts, piper.WithSpeaker(tc.Voice))
		}
		return piper.New(tc.ServerURL, opts...)
	}
}

func buildLLM(cfg *config.Config) (llm.Provider, error) {
	primary, err := buildLLMProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	fb := cfg.LLM.Fallback
	if fb == nil {
		return primary, nil
	}
	secondary, err := buildLLMProvider(*fb)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	chain := resilience.NewLLMFallback(primary, string(cfg.LLM.Backend), resilience.FallbackConfig{})
	chain.AddFallback(string(fb.Backend), secondary)
	return chain, nil
}

func buildLLMProvider(lc config.LLMConfig) (llm.Provider, error) {
	apiKey := os.Getenv(lc.APIKeyEnv)

	switch lc.Backend {
	case config.LLMMock:
		return &llmmock.Provider{Response: "This is a mock reply."}, nil
	case config.LLMAnyLLM:
		var opts []anyllmlib.Option
		if apiKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(apiKey))
		}
		if lc.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(lc.BaseURL))
		}
		return anyllm.New(lc.Provider, lc.Model, opts...)
	default:
		var opts []openai.Option
		if lc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(lc.BaseURL))
		}
		return openai.New(apiKey, lc.Model, opts...)
	}
}

func buildEmbeddings(cfg *config.Config) (embeddings.Provider, error) {
	ec := cfg.Telemetry.Embeddings
	switch ec.Backend {
	case config.EmbeddingsMock:
		return &embedmock.Provider{DimensionsValue: 8}, nil
	case config.EmbeddingsOllama:
		return ollamaembed.New(ec.ServerURL, ec.Model)
	default:
		return oaembed.New(os.Getenv(ec.APIKeyEnv), ec.Model)
	}
}

func printDevices() int {
	devices, err := portaudio.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		return 1
	}
	fmt.Println("index  in  out  default  rate     name")
	for _, d := range devices {
		def := ""
		if d.IsDefaultInput {
			def += "in"
		}
		if d.IsDefaultOutput {
			if def != "" {
				def += "+"
			}
			def += "out"
		}
		fmt.Printf("%5d  %2d  %3d  %-7s  %-7.0f  %s\n",
			d.Index, d.MaxInputChannels, d.MaxOutputChannels, def, d.DefaultSampleRate, d.Name)
	}
	return 0
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║        auricle startup summary         ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Audio", string(cfg.Audio.Backend))
	printRow("Wake", fmt.Sprintf("%s / %s", cfg.Wake.Backend, cfg.Wake.Model))
	printRow("STT", string(cfg.STT.Backend))
	printRow("TTS", string(cfg.TTS.Backend))
	printRow("LLM", fmt.Sprintf("%s / %s", cfg.LLM.Backend, cfg.LLM.Model))
	printRow("Barge-in", string(cfg.BargeIn.Policy))
	printRow("Solar", onOff(cfg.Solar.Enabled))
	printRow("Telemetry", onOff(cfg.Telemetry.Enabled))
	printRow("MCP servers", fmt.Sprintf("%d", len(cfg.MCP.Servers)))
	printRow("Admin addr", cfg.Admin.ListenAddr)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 22 {
		value = string([]rune(value)[:21]) + "…"
	}
	fmt.Printf("║  %-12s : %-22s ║\n", label, value)
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
