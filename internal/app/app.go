// Package app wires all auricle subsystems into a running appliance.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the voice pipeline and background workers, and
// Shutdown tears everything down in order.
//
// For testing, inject alternatives via functional options (WithKV,
// WithSolarClient, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hearthware/auricle/internal/config"
	"github.com/hearthware/auricle/internal/feature"
	"github.com/hearthware/auricle/internal/health"
	"github.com/hearthware/auricle/internal/hud"
	"github.com/hearthware/auricle/internal/media"
	mediamock "github.com/hearthware/auricle/internal/media/mock"
	"github.com/hearthware/auricle/internal/observe"
	"github.com/hearthware/auricle/internal/pipeline"
	"github.com/hearthware/auricle/internal/promptcache"
	"github.com/hearthware/auricle/internal/resilience"
	"github.com/hearthware/auricle/internal/router"
	"github.com/hearthware/auricle/internal/solar"
	solarmock "github.com/hearthware/auricle/internal/solar/mock"
	"github.com/hearthware/auricle/internal/store"
	"github.com/hearthware/auricle/internal/telemetry"
	"github.com/hearthware/auricle/internal/tools"
	"github.com/hearthware/auricle/internal/version"
	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/provider/embeddings"
	"github.com/hearthware/auricle/pkg/provider/llm"
	"github.com/hearthware/auricle/pkg/provider/stt"
	"github.com/hearthware/auricle/pkg/provider/tts"
	"github.com/hearthware/auricle/pkg/wake"
)

// versionKey is where the KV store remembers the last version that ran, so
// a deploy can be announced once.
const versionKey = "meta/last_version"

// adminShutdownTimeout bounds the admin server drain during Run teardown.
const adminShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go from the config backend selectors. Embeddings may be nil when the
// semantic index is not configured; everything else is required.
type Providers struct {
	Device     audio.Device
	Wake       wake.Detector
	STT        stt.Transcriber
	TTS        tts.Synthesizer
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

func (p *Providers) validate() error {
	var errs []error
	if p.Device == nil {
		errs = append(errs, errors.New("Device is required"))
	}
	if p.Wake == nil {
		errs = append(errs, errors.New("Wake is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("STT is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("TTS is required"))
	}
	if p.LLM == nil {
		errs = append(errs, errors.New("LLM is required"))
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes and orchestrates the voice front end.
type App struct {
	cfg       *config.Config
	cfgPath   string
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	// Subsystems, initialised in New, torn down in Shutdown.
	kv        store.KV
	bridge    *pipeline.Bridge
	reminders *feature.Reminder
	repeat    *feature.Repeat
	toolHost  *tools.Host
	router    *router.Router
	prompts   *promptcache.Cache
	pool       *pgxpool.Pool
	collector  *solar.Collector
	solarCli   solar.Client
	solarStore *solar.Store
	recorder  *telemetry.Recorder
	dashboard *telemetry.Dashboard
	hub       *hud.Hub
	ctrl      *audio.Controller
	pipe      *pipeline.Pipeline
	admin     *http.Server
	watcher   *config.Watcher

	// closers run in reverse-init order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithKV injects a key-value store instead of opening Badger from config.
func WithKV(kv store.KV) Option {
	return func(a *App) { a.kv = kv }
}

// WithSolarClient injects a gateway client instead of creating one from
// config.
func WithSolarClient(c solar.Client) Option {
	return func(a *App) { a.solarCli = c }
}

// WithMetrics injects a metrics set instead of using the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigPath enables the config file watcher for hot-reloadable knobs.
func WithConfigPath(path string) Option {
	return func(a *App) { a.cfgPath = path }
}

// WithLogLevel hands the watcher the level var that backs the process
// logger, so log.level edits apply live.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. New performs all initialisation synchronously:
// store opening, database migration, MCP server registration, prompt
// synthesis, and pipeline assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers must not be nil")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		bridge:    pipeline.NewBridge(),
	}
	for _, o := range opts {
		o(a)
	}
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// 1. Key-value store.
	if err := a.initKV(); err != nil {
		return nil, fmt.Errorf("app: init kv: %w", err)
	}

	// 2. PostgreSQL pool (solar history + telemetry).
	if err := a.initPostgres(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init postgres: %w", err)
	}

	// 3. Solar collector.
	if err := a.initSolar(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init solar: %w", err)
	}

	// 4. Telemetry recorder + dashboard.
	if err := a.initTelemetry(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// 5. MCP tool host.
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// 6. Features + router.
	if err := a.initRouter(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init router: %w", err)
	}

	// 7. Prompt cache (synthesizes the spoken phrase pools up front).
	a.prompts = promptcache.New(ctx, providers.TTS, promptcache.DefaultPools())

	// 8. Audio controller + pipeline.
	if err := a.initPipeline(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// 9. Admin HTTP server.
	a.initAdmin()

	return a, nil
}

func (a *App) initKV() error {
	if a.kv != nil {
		return nil
	}
	if dir := a.cfg.Features.DataDir; dir != "" {
		kv, err := store.NewBadgerKV(store.BadgerOptions{Dir: dir})
		if err != nil {
			return err
		}
		a.kv = kv
		a.closers = append(a.closers, kv.Close)
		return nil
	}
	slog.Warn("features.data_dir not set, grocery and reminder data will not survive a restart")
	a.kv = store.NewMemoryKV()
	return nil
}

func (a *App) initPostgres(ctx context.Context) error {
	dsn := a.cfg.Postgres.DSN
	if dsn == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

func (a *App) initSolar(ctx context.Context) error {
	if !a.cfg.Solar.Enabled {
		return nil
	}
	if a.pool == nil {
		return errors.New("solar.enabled requires postgres.dsn")
	}

	st := solar.NewStore(a.pool)
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate solar store: %w", err)
	}
	a.solarStore = st

	if a.solarCli == nil {
		switch a.cfg.Solar.Backend {
		case config.SolarMock:
			a.solarCli = solarmock.New()
		default:
			gw, err := solar.NewGateway(solar.GatewayConfig{
				Host:      a.cfg.Solar.GatewayHost,
				Token:     a.cfg.Solar.Token,
				TokenFile: a.cfg.Solar.TokenFile,
				Email:     a.cfg.Solar.Email,
				Password:  a.cfg.Solar.Password,
				Serial:    a.cfg.Solar.Serial,
			})
			if err != nil {
				return fmt.Errorf("create gateway client: %w", err)
			}
			a.solarCli = gw
		}
		a.closers = append(a.closers, a.solarCli.Close)
	}

	a.collector = solar.NewCollector(a.solarCli, st, solar.CollectorConfig{
		PollInterval: a.cfg.Solar.PollInterval(),
		Latitude:     a.cfg.Solar.Latitude,
		Longitude:    a.cfg.Solar.Longitude,
	})
	a.closers = append(a.closers, a.collector.Close)
	return nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	if a.pool == nil {
		return errors.New("telemetry.enabled requires postgres.dsn")
	}

	st := telemetry.NewStore(a.pool)
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate telemetry store: %w", err)
	}

	var recorderOpts []telemetry.RecorderOption
	var dashOpts []telemetry.DashboardOption
	if a.cfg.Telemetry.SemanticIndex {
		if a.providers.Embeddings == nil {
			return errors.New("telemetry.semantic_index requires an embeddings backend")
		}
		idx := telemetry.NewSemanticIndex(a.pool, a.providers.Embeddings)
		if err := idx.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate semantic index: %w", err)
		}
		recorderOpts = append(recorderOpts, telemetry.WithIndexer(idx))
		dashOpts = append(dashOpts, telemetry.WithSearcher(idx))
	}

	a.recorder = telemetry.NewRecorder(st, recorderOpts...)
	a.closers = append(a.closers, a.recorder.Close)
	a.dashboard = telemetry.NewDashboard(st, dashOpts...)
	return nil
}

func (a *App) initTools(ctx context.Context) error {
	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}
	a.toolHost = tools.NewHost(tools.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.toolHost.Close)

	for _, srv := range a.cfg.MCP.Servers {
		err := a.toolHost.RegisterServer(ctx, tools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
	}
	return nil
}

func (a *App) initRouter() error {
	features, err := a.buildFeatures()
	if err != nil {
		return err
	}

	provider := a.providers.LLM
	if a.recorder != nil {
		provider = telemetry.NewRecordingProvider(provider, a.recorder, a.cfg.LLM.Model)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm"})
	history := router.NewHistory(a.cfg.LLM.MaxHistory, a.cfg.LLM.HistoryTTL())

	routerOpts := []router.Option{
		router.WithBreaker(breaker),
		router.WithHistory(history),
	}
	if a.cfg.Routing.Recovery {
		routerOpts = append(routerOpts, router.WithCorrector(router.NewCorrector(router.CorrectorConfig{
			Provider:     provider,
			Descriptions: router.Descriptions(features),
		})))
	}
	if a.cfg.LLM.SystemPrompt != "" {
		routerOpts = append(routerOpts, router.WithSystemPrompt(a.cfg.LLM.SystemPrompt))
	}
	if a.toolHost != nil {
		routerOpts = append(routerOpts, router.WithToolHost(a.toolHost))
	}

	a.router = router.New(provider, features, routerOpts...)
	a.closers = append(a.closers, a.router.Close)
	return nil
}

// buildFeatures assembles the enabled features in match order. Capabilities
// goes last so it can describe the rest.
func (a *App) buildFeatures() ([]feature.Feature, error) {
	fc := a.cfg.Features
	var features []feature.Feature

	if fc.Grocery {
		features = append(features, feature.NewGrocery(store.NewGrocery(a.kv)))
	}
	if fc.Reminder {
		a.reminders = feature.NewReminder(store.NewReminders(a.kv), a.bridge.Submit)
		a.closers = append(a.closers, a.reminders.Close)
		features = append(features, a.reminders)
	}
	if fc.Repeat {
		a.repeat = feature.NewRepeat()
		features = append(features, a.repeat)
	}
	if fc.Solar {
		if a.solarStore == nil {
			return nil, errors.New("features.solar requires solar.enabled")
		}
		features = append(features, feature.NewSolar(a.solarStore, a.providers.LLM))
	}
	if fc.Media {
		radarr, sonarr, err := a.buildMediaClients()
		if err != nil {
			return nil, err
		}
		if radarr != nil || sonarr != nil {
			features = append(features, feature.NewMedia(radarr, sonarr, a.cfg.Media.DisambiguationTTL()))
		}
	}
	if fc.Capabilities {
		features = append(features, feature.NewCapabilities(features))
	}

	return features, nil
}

func (a *App) buildMediaClients() (media.RadarrClient, media.SonarrClient, error) {
	var radarr media.RadarrClient
	var sonarr media.SonarrClient

	switch a.cfg.Media.RadarrMode {
	case config.MediaLive:
		c, err := media.NewRadarr(a.cfg.Media.RadarrURL, a.cfg.Media.RadarrAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("create radarr client: %w", err)
		}
		radarr = c
	case config.MediaMock:
		radarr = mediamock.NewRadarr()
	}

	switch a.cfg.Media.SonarrMode {
	case config.MediaLive:
		c, err := media.NewSonarr(a.cfg.Media.SonarrURL, a.cfg.Media.SonarrAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("create sonarr client: %w", err)
		}
		sonarr = c
	case config.MediaMock:
		sonarr = mediamock.NewSonarr()
	}

	return radarr, sonarr, nil
}

func (a *App) initPipeline() error {
	a.ctrl = audio.NewController(a.providers.Device)
	a.closers = append(a.closers, a.ctrl.Close)

	a.hub = hud.NewHub(hud.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.hub.Close)

	pipeOpts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithObserver(a.hub.Observer()),
		pipeline.WithWakeModel(a.cfg.Wake.Model),
	}
	if a.recorder != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRecorder(a.recorder))
	}
	if a.repeat != nil {
		pipeOpts = append(pipeOpts, pipeline.WithOnExchange(a.repeat.Record))
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Audio:     a.ctrl,
		Wake:      a.providers.Wake,
		STT:       a.providers.STT,
		Responder: a.router,
		TTS:       a.providers.TTS,
		Prompts:   a.prompts,
		Bridge:    a.bridge,
	}, settingsFromConfig(a.cfg), pipeOpts...)
	if err != nil {
		return err
	}
	a.pipe = pipe
	return nil
}

func (a *App) initAdmin() {
	mux := http.NewServeMux()

	var checkers []health.Checker
	if url := a.cfg.STT.ServerURL; url != "" {
		checkers = append(checkers, health.HTTPChecker("stt", url, nil))
	}
	if url := a.cfg.TTS.ServerURL; url != "" {
		checkers = append(checkers, health.HTTPChecker("tts", url, nil))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws/hud", a.hub)
	if a.dashboard != nil {
		a.dashboard.Register(mux)
	}

	a.admin = &http.Server{
		Addr:    a.cfg.Admin.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// settingsFromConfig maps the hot-reloadable config sections onto pipeline
// settings.
func settingsFromConfig(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		AckEnabled:           cfg.Wake.AckEnabled,
		VADEnabled:           cfg.VAD.Enabled,
		VADThreshold:         cfg.VAD.ThresholdRMS,
		Hangover:             cfg.VAD.Hangover(),
		MinSpeech:            cfg.VAD.MinSpeech(),
		MaxUtterance:         cfg.Recording.MaxDuration(),
		FixedDuration:        cfg.Recording.FixedDuration(),
		FollowUpWindow:       cfg.Recording.FollowUpWindow(),
		CaptureTimeout:       cfg.Audio.CaptureTimeout(),
		RoutingTimeout:       cfg.Routing.Timeout(),
		BargeIn:              pipeline.BargeInPolicy(cfg.BargeIn.Policy),
		BargeEnergyThreshold: cfg.BargeIn.EnergyThresholdRMS,
		BargeEnergyChunks:    cfg.BargeIn.EnergyChunks,
	}
}

// Run starts the pipeline, background workers, and admin server, then
// blocks until ctx is cancelled or the pipeline fails. Call Shutdown after
// Run returns.
func (a *App) Run(ctx context.Context) error {
	a.announceUpdate(ctx)

	if a.reminders != nil {
		a.reminders.Start(ctx)
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if a.cfgPath != "" {
		w, err := config.NewWatcher(a.cfgPath, a.onConfigChange)
		if err != nil {
			slog.Warn("config watcher disabled", "error", err)
		} else {
			a.watcher = w
			a.closers = append(a.closers, func() error {
				w.Stop()
				return nil
			})
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pipe.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("admin server listening", "addr", a.admin.Addr)
		if err := a.admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		return a.admin.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// announceUpdate queues a spoken update notice when the stored version
// differs from the running one, then records the running version.
func (a *App) announceUpdate(ctx context.Context) {
	current := version.Spoken()
	prev, err := a.kv.Get(ctx, versionKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First run, nothing to announce.
	case err != nil:
		slog.Warn("version check failed", "error", err)
		return
	case string(prev) != current:
		a.bridge.Submit(fmt.Sprintf("I have been updated to version %s.", current))
	}
	if err := a.kv.Set(ctx, versionKey, []byte(current)); err != nil {
		slog.Warn("failed to record version", "error", err)
	}
}

// onConfigChange applies hot-reloadable edits and names the rest.
func (a *App) onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.VADChanged || d.BargeInChanged || d.WakeTuningChanged {
		a.cfg.VAD = new.VAD
		a.cfg.BargeIn = new.BargeIn
		a.cfg.Wake.Threshold = new.Wake.Threshold
		a.cfg.Wake.AckEnabled = new.Wake.AckEnabled
		a.pipe.UpdateSettings(settingsFromConfig(a.cfg))
		slog.Info("pipeline settings reloaded")
	}
	if d.WakeTuningChanged {
		if ts, ok := a.providers.Wake.(interface{ SetThreshold(float64) }); ok {
			ts.SetThreshold(d.NewWakeThreshold)
		}
	}

	for _, section := range d.RestartNeeded {
		slog.Warn("config change needs a restart to apply", "section", section)
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll is the failure path in New: release what was already opened.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
