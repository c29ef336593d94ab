// Package pipeline runs the voice interaction loop: wake word, record,
// transcribe, route, speak.
//
// One worker goroutine owns the whole cycle and is the sole writer of the
// pipeline state, so transitions cannot race. Capture, playback, wake
// detection, transcription, routing, and synthesis are all injected through
// narrow interfaces; the pipeline itself only sequences them and contains
// their failures. Any stage error degrades the current cycle to silence and
// returns the loop to idle: a flaky dependency costs one interaction, never
// the process.
//
// Background producers hand announcements to a [Bridge]; the loop speaks
// them during idle windows, never over a recording or a reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthware/auricle/internal/observe"
	"github.com/hearthware/auricle/internal/promptcache"
	"github.com/hearthware/auricle/internal/router"
	"github.com/hearthware/auricle/internal/telemetry"
	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/provider/stt"
	"github.com/hearthware/auricle/pkg/provider/tts"
	"github.com/hearthware/auricle/pkg/vad"
	"github.com/hearthware/auricle/pkg/wake"
	"github.com/hearthware/auricle/pkg/wake/energy"
)

// defaultFailureBackoff is the pause after a failed cycle before the loop
// listens again, so a wedged dependency does not spin the pipeline hot.
const defaultFailureBackoff = 2 * time.Second

// BargeInPolicy selects how speech during playback interrupts the
// assistant.
type BargeInPolicy string

const (
	// BargeOff never interrupts playback.
	BargeOff BargeInPolicy = "off"

	// BargeWake interrupts when the wake word fires during playback.
	BargeWake BargeInPolicy = "wake"

	// BargeEnergy interrupts on sustained loud speech during playback.
	BargeEnergy BargeInPolicy = "energy"
)

// Settings holds the tunable pipeline parameters. All fields are
// hot-reloadable: [Pipeline.UpdateSettings] swaps them atomically and each
// cycle reads a fresh snapshot.
type Settings struct {
	// AckEnabled plays a short cached phrase when the wake word fires.
	AckEnabled bool

	// VADEnabled ends recordings on detected end of speech. When false,
	// every recording lasts exactly FixedDuration.
	VADEnabled bool

	// VADThreshold is the RMS energy above which a chunk counts as speech.
	VADThreshold float64

	// Hangover is the trailing silence that ends an utterance.
	Hangover time.Duration

	// MinSpeech is the minimum accumulated loud time for an utterance to
	// be transcribed at all.
	MinSpeech time.Duration

	// MaxUtterance caps a single utterance. It also bounds how long the
	// recorder waits for speech to start after a wake.
	MaxUtterance time.Duration

	// FixedDuration is the recording length when VAD is disabled.
	FixedDuration time.Duration

	// FollowUpWindow bounds how long a follow-up recording waits for the
	// user to start speaking.
	FollowUpWindow time.Duration

	// CaptureTimeout is the per-chunk capture wait; it sets how quickly
	// the loop notices cancellation and queued announcements.
	CaptureTimeout time.Duration

	// RoutingTimeout bounds one routing pass.
	RoutingTimeout time.Duration

	// BargeIn selects the playback interruption trigger.
	BargeIn BargeInPolicy

	// BargeEnergyThreshold and BargeEnergyChunks tune the energy policy:
	// this many consecutive chunks above the threshold interrupt playback.
	BargeEnergyThreshold float64
	BargeEnergyChunks    int
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		AckEnabled:           true,
		VADEnabled:           true,
		VADThreshold:         500,
		Hangover:             1500 * time.Millisecond,
		MinSpeech:            500 * time.Millisecond,
		MaxUtterance:         15 * time.Second,
		FixedDuration:        5 * time.Second,
		FollowUpWindow:       6 * time.Second,
		CaptureTimeout:       250 * time.Millisecond,
		RoutingTimeout:       30 * time.Second,
		BargeIn:              BargeWake,
		BargeEnergyThreshold: 1500,
		BargeEnergyChunks:    3,
	}
}

// Responder turns a transcript into a spoken reply. *router.Router
// satisfies it.
type Responder interface {
	Route(ctx context.Context, text string) (router.Reply, error)
}

// Recorder receives per-interaction telemetry. *telemetry.Recorder
// satisfies it. Implementations must not block the pipeline.
type Recorder interface {
	StartSession(wakeModel string)
	EndSession()
	RecordExchange(ex *telemetry.Exchange)
}

// Deps are the pipeline's collaborators. Audio, Wake, STT, Responder, and
// TTS are required; Prompts and Bridge are optional.
type Deps struct {
	Audio     *audio.Controller
	Wake      wake.Detector
	STT       stt.Transcriber
	Responder Responder
	TTS       tts.Synthesizer
	Prompts   *promptcache.Cache
	Bridge    *Bridge
}

func (d Deps) validate() error {
	var errs []error
	if d.Audio == nil {
		errs = append(errs, errors.New("audio controller is required"))
	}
	if d.Wake == nil {
		errs = append(errs, errors.New("wake detector is required"))
	}
	if d.STT == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if d.Responder == nil {
		errs = append(errs, errors.New("responder is required"))
	}
	if d.TTS == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	return errors.Join(errs...)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers an event observer. Observers run on the pipeline
// goroutine and must not block.
func WithObserver(fn Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, fn) }
}

// WithRecorder enables telemetry recording.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithMetrics enables metric instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOnExchange registers a hook called after each completed exchange with
// the transcript and the spoken reply.
func WithOnExchange(fn func(query, response string)) Option {
	return func(p *Pipeline) { p.onExchange = fn }
}

// WithWakeModel tags sessions and wake metrics with the model name.
func WithWakeModel(name string) Option {
	return func(p *Pipeline) { p.wakeModel = name }
}

// Pipeline is the voice interaction loop. Create with [New], drive with
// [Run].
type Pipeline struct {
	deps Deps

	mu       sync.RWMutex
	settings Settings

	state atomic.Int32

	observers  []Observer
	recorder   Recorder
	metrics    *observe.Metrics
	onExchange func(query, response string)
	wakeModel  string
	backoff    time.Duration
	log        *slog.Logger
}

// New validates deps and creates a pipeline with the given settings.
func New(deps Deps, s Settings, opts ...Option) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p := &Pipeline{
		deps:     deps,
		settings: s,
		backoff:  defaultFailureBackoff,
		log:      slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// UpdateSettings replaces the settings. The change takes effect at the next
// cycle boundary.
func (p *Pipeline) UpdateSettings(s Settings) {
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	p.log.Info("pipeline settings updated")
}

func (p *Pipeline) snapshot() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// Run drives the loop until ctx is cancelled. Cancellation is observed at
// every chunk boundary. Any cycle failure, a capture device fault included,
// is contained to that cycle: the loop logs, backs off, and listens again.
func (p *Pipeline) Run(ctx context.Context) error {
	p.setState(StateIdle)

	if clip, ok := p.pick(promptcache.Startup); ok {
		p.setState(StateSpeaking)
		if err := p.playClip(ctx, clip); err != nil && ctx.Err() == nil {
			p.log.Warn("startup announcement failed", "err", err)
		}
		p.setState(StateIdle)
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start, fired, err := p.listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("listen failed", "err", err)
			p.sleep(ctx, p.backoff)
			continue
		}
		if !fired {
			continue
		}

		if err := p.interact(ctx, start); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			p.log.Error("interaction failed", "err", err, "consecutive", failures)
			p.sleep(ctx, p.backoff)
			continue
		}
		failures = 0
	}
}

// listen waits in idle for the wake word, speaking queued announcements as
// they arrive. Returns the cycle mode to start in when an interaction
// should begin: a barge-in during an announcement starts in modeBargeIn so
// the already-talking user is not played an ack.
func (p *Pipeline) listen(ctx context.Context) (cycleMode, bool, error) {
	p.deps.Wake.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return modeWake, false, err
		}
		s := p.snapshot()

		if text, ok := p.bridgeNext(); ok {
			barged, err := p.announce(ctx, text, s)
			if err != nil {
				return modeWake, false, err
			}
			if barged {
				p.recordWake(ctx)
				return modeBargeIn, true, nil
			}
			continue
		}

		chunk, err := p.deps.Audio.NextChunk(s.CaptureTimeout)
		if err != nil {
			return modeWake, false, err
		}
		if chunk == nil {
			continue
		}
		fired, werr := p.deps.Wake.Observe(ctx, chunk)
		if werr != nil {
			p.log.Warn("wake detection error", "err", werr)
			continue
		}
		if fired {
			p.recordWake(ctx)
			return modeWake, true, nil
		}
	}
}

// cycleMode distinguishes how a cycle was entered.
type cycleMode int

const (
	// modeWake is a fresh interaction: ack plays, full speech window.
	modeWake cycleMode = iota

	// modeFollowUp re-enters recording without a wake word, bounded by
	// the follow-up window. No ack: the assistant just asked a question.
	modeFollowUp

	// modeBargeIn re-enters after an interrupted reply. No ack: the user
	// is already talking.
	modeBargeIn
)

// nextStep is a cycle's verdict on what the loop does next.
type nextStep int

const (
	nextIdle nextStep = iota
	nextFollowUp
	nextBargeIn
)

// interact runs cycles until one of them sends the loop back to idle,
// starting in the given mode; barge-ins and follow-ups chain further
// cycles within the same session.
func (p *Pipeline) interact(ctx context.Context, start cycleMode) error {
	if p.metrics != nil {
		p.metrics.ActiveInteractions.Add(ctx, 1)
		defer p.metrics.ActiveInteractions.Add(ctx, -1)
	}
	if p.recorder != nil {
		p.recorder.StartSession(p.wakeModel)
		defer p.recorder.EndSession()
	}
	defer p.setState(StateIdle)

	mode := start
	for {
		next, err := p.cycle(ctx, mode)
		if err != nil {
			return err
		}
		switch next {
		case nextIdle:
			return nil
		case nextBargeIn:
			mode = modeBargeIn
		case nextFollowUp:
			mode = modeFollowUp
		}
	}
}

// cycle runs one record → transcribe → route → speak pass.
func (p *Pipeline) cycle(ctx context.Context, mode cycleMode) (nextStep, error) {
	s := p.snapshot()
	ex := &telemetry.Exchange{
		StartedAt:  time.Now().UTC(),
		UsedVAD:    s.VADEnabled,
		IsFollowUp: mode == modeFollowUp,
	}
	discard := false
	defer func() {
		if discard || p.recorder == nil {
			return
		}
		ex.EndedAt = time.Now().UTC()
		p.recorder.RecordExchange(ex)
	}()

	if mode == modeWake && s.AckEnabled {
		p.setState(StateAcknowledging)
		if clip, ok := p.pick(promptcache.Ack); ok {
			// Non-blocking: the ack overlaps the start of recording.
			p.deps.Audio.Play(clip)
		}
	}

	p.setState(StateRecording)
	ex.StartPhase(telemetry.PhaseRecording)
	pcm, usable, err := p.record(ctx, mode, s)
	ex.EndPhase(telemetry.PhaseRecording)
	if err != nil {
		ex.Error = err.Error()
		return nextIdle, fmt.Errorf("recording: %w", err)
	}
	if !usable {
		// Nothing worth transcribing was said. An unused follow-up window
		// is not an exchange at all.
		discard = mode == modeFollowUp
		return nextIdle, nil
	}
	speechEnd := time.Now()

	p.setState(StateTranscribing)
	ex.StartPhase(telemetry.PhaseSTT)
	sttStart := time.Now()
	text, err := p.deps.STT.Transcribe(ctx, pcm)
	ex.EndPhase(telemetry.PhaseSTT)
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	}
	if cerr := ctx.Err(); cerr != nil {
		return nextIdle, cerr
	}
	if errors.Is(err, stt.ErrNoSpeech) {
		p.log.Debug("no speech recognized")
		return nextIdle, nil
	}
	if err != nil {
		ex.Error = err.Error()
		return nextIdle, fmt.Errorf("transcription: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.log.Debug("empty transcription")
		return nextIdle, nil
	}
	ex.Transcription = text
	p.publish(Event{Kind: EventTranscript, Text: text, At: time.Now()})

	p.setState(StateRouting)
	ex.StartPhase(telemetry.PhaseRouting)
	routeStart := time.Now()
	rctx, cancel := context.WithTimeout(ctx, s.RoutingTimeout)
	reply, rerr := p.deps.Responder.Route(rctx, text)
	cancel()
	ex.EndPhase(telemetry.PhaseRouting)
	if p.metrics != nil {
		p.metrics.RouteDuration.Record(ctx, time.Since(routeStart).Seconds())
	}
	if cerr := ctx.Err(); cerr != nil {
		return nextIdle, cerr
	}
	if rerr != nil {
		ex.Error = rerr.Error()
		if p.metrics != nil {
			p.metrics.RecordInteraction(ctx, "none", "route_error")
		}
		p.speakFailure(ctx)
		return nextIdle, fmt.Errorf("routing %q: %w", text, rerr)
	}
	ex.RoutePath = routePath(reply)
	ex.MatchedFeature = reply.Feature
	ex.FeatureAction = reply.Action
	ex.ResponseText = reply.Text

	p.setState(StateSpeaking)
	ex.StartPhase(telemetry.PhaseTTS)
	ttsStart := time.Now()
	voice, terr := p.deps.TTS.Synthesize(ctx, reply.Text)
	ex.EndPhase(telemetry.PhaseTTS)
	if p.metrics != nil {
		p.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
	}
	if cerr := ctx.Err(); cerr != nil {
		return nextIdle, cerr
	}
	if terr != nil {
		ex.Error = terr.Error()
		if p.metrics != nil {
			p.metrics.RecordInteraction(ctx, handlerName(reply), "tts_error")
		}
		p.speakFailure(ctx)
		return nextIdle, fmt.Errorf("synthesis: %w", terr)
	}

	p.publish(Event{Kind: EventReply, Text: reply.Text, At: time.Now()})
	if p.metrics != nil {
		p.metrics.InteractionDuration.Record(ctx, time.Since(speechEnd).Seconds())
		p.metrics.RecordInteraction(ctx, handlerName(reply), "success")
	}

	ex.StartPhase(telemetry.PhasePlayback)
	barged, perr := p.speak(ctx, voice, s)
	ex.EndPhase(telemetry.PhasePlayback)
	ex.HadBargeIn = barged
	if perr != nil {
		ex.Error = perr.Error()
		return nextIdle, fmt.Errorf("playback: %w", perr)
	}

	if p.onExchange != nil {
		p.onExchange(text, reply.Text)
	}
	if barged {
		return nextBargeIn, nil
	}
	if reply.ExpectsFollowUp {
		return nextFollowUp, nil
	}
	return nextIdle, nil
}

// record captures one utterance. The second return value reports whether
// the audio is worth transcribing: false means silence, a too-short blip,
// or an expired follow-up window.
func (p *Pipeline) record(ctx context.Context, mode cycleMode, s Settings) ([]int16, bool, error) {
	if !s.VADEnabled {
		return p.recordFixed(ctx, s)
	}

	det := vad.New(
		vad.WithThreshold(s.VADThreshold),
		vad.WithHangover(s.Hangover),
		vad.WithMinSpeech(s.MinSpeech),
		vad.WithMaxUtterance(s.MaxUtterance),
	)
	leadIn := s.MaxUtterance
	if mode == modeFollowUp {
		leadIn = s.FollowUpWindow
	}

	start := time.Now()
	var pcm []int16
	speechSeen := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		chunk, err := p.deps.Audio.NextChunk(s.CaptureTimeout)
		if err != nil {
			return nil, false, err
		}
		if chunk != nil {
			pcm = append(pcm, chunk...)
			switch det.Observe(chunk) {
			case vad.SpeechStart:
				speechSeen = true
			case vad.SpeechEnd:
				return pcm, det.HasSpeech(), nil
			}
		}
		if !speechSeen && time.Since(start) >= leadIn {
			return nil, false, nil
		}
		// Wall-clock guard in case capture stalls keep the VAD from ever
		// reaching its own cap.
		if time.Since(start) >= leadIn+s.MaxUtterance+s.Hangover {
			return pcm, det.HasSpeech(), nil
		}
	}
}

// recordFixed captures for exactly FixedDuration, the fallback when VAD is
// disabled.
func (p *Pipeline) recordFixed(ctx context.Context, s Settings) ([]int16, bool, error) {
	deadline := time.Now().Add(s.FixedDuration)
	var pcm []int16
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		chunk, err := p.deps.Audio.NextChunk(s.CaptureTimeout)
		if err != nil {
			return nil, false, err
		}
		if chunk != nil {
			pcm = append(pcm, chunk...)
		}
	}
	return pcm, len(pcm) > 0, nil
}

// speak plays pcm while supervising for barge-in per the active policy.
// Returns true when the user interrupted; playback is already stopped and
// stale capture flushed so the next recording starts clean.
func (p *Pipeline) speak(ctx context.Context, pcm []int16, s Settings) (bool, error) {
	play := p.deps.Audio.Play(pcm)
	det := p.bargeDetector(s)
	if det == nil {
		return false, p.awaitPlayback(ctx, play)
	}
	det.Reset()

	for {
		select {
		case <-ctx.Done():
			play.Stop()
			<-play.Done()
			return false, ctx.Err()
		case <-play.Done():
			return false, play.Err()
		default:
		}

		chunk, err := p.deps.Audio.NextChunk(s.CaptureTimeout)
		if err != nil {
			// Playback is fine; only supervision is lost. The capture
			// fault resurfaces on the next cycle.
			p.log.Warn("capture failed during playback, barge-in disabled", "err", err)
			return false, p.awaitPlayback(ctx, play)
		}
		if chunk == nil {
			continue
		}
		fired, derr := det.Observe(ctx, chunk)
		if derr != nil {
			p.log.Warn("barge-in detection error", "err", derr)
			continue
		}
		if fired {
			play.Stop()
			<-play.Done()
			p.deps.Audio.Flush()
			if p.metrics != nil {
				p.metrics.RecordBargeIn(ctx, string(s.BargeIn))
			}
			p.log.Info("barge-in", "policy", s.BargeIn)
			return true, nil
		}
	}
}

// bargeDetector returns the detector for the active policy, nil when
// barge-in is off.
func (p *Pipeline) bargeDetector(s Settings) wake.Detector {
	switch s.BargeIn {
	case BargeWake:
		return p.deps.Wake
	case BargeEnergy:
		return energy.New(
			energy.WithThreshold(s.BargeEnergyThreshold),
			energy.WithConsecutive(s.BargeEnergyChunks),
		)
	default:
		return nil
	}
}

// announce synthesizes and speaks one background announcement. Returns true
// when a barge-in interrupted it, which the caller treats as a wake.
func (p *Pipeline) announce(ctx context.Context, text string, s Settings) (bool, error) {
	voice, err := p.deps.TTS.Synthesize(ctx, text)
	if err != nil {
		p.log.Error("announcement synthesis failed", "text", text, "err", err)
		return false, nil
	}

	p.publish(Event{Kind: EventAnnouncement, Text: text, At: time.Now()})
	p.setState(StateSpeaking)
	barged, perr := p.speak(ctx, voice, s)
	p.setState(StateIdle)
	if perr != nil && ctx.Err() == nil {
		p.log.Error("announcement playback failed", "err", perr)
	}
	return barged, ctx.Err()
}

// speakFailure plays the cached generic failure phrase, best effort.
func (p *Pipeline) speakFailure(ctx context.Context) {
	clip, ok := p.pick(promptcache.Failure)
	if !ok {
		return
	}
	p.setState(StateSpeaking)
	if err := p.playClip(ctx, clip); err != nil && ctx.Err() == nil {
		p.log.Warn("failure response playback failed", "err", err)
	}
}

// playClip plays a cached clip to completion, stopping early on
// cancellation.
func (p *Pipeline) playClip(ctx context.Context, clip []int16) error {
	return p.awaitPlayback(ctx, p.deps.Audio.Play(clip))
}

func (p *Pipeline) awaitPlayback(ctx context.Context, play *audio.Playback) error {
	select {
	case <-ctx.Done():
		play.Stop()
		<-play.Done()
		return ctx.Err()
	case <-play.Done():
		return play.Err()
	}
}

func (p *Pipeline) pick(cat promptcache.Category) ([]int16, bool) {
	if p.deps.Prompts == nil {
		return nil, false
	}
	return p.deps.Prompts.Pick(cat)
}

func (p *Pipeline) bridgeNext() (string, bool) {
	if p.deps.Bridge == nil {
		return "", false
	}
	return p.deps.Bridge.next()
}

func (p *Pipeline) recordWake(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.RecordWake(ctx, p.wakeModel)
	}
}

func (p *Pipeline) setState(st State) {
	if State(p.state.Swap(int32(st))) == st {
		return
	}
	p.publish(Event{Kind: EventState, State: st, At: time.Now()})
}

func (p *Pipeline) publish(ev Event) {
	for _, fn := range p.observers {
		fn(ev)
	}
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// routePath classifies which routing tier produced the reply.
func routePath(r router.Reply) string {
	switch {
	case r.Feature != "" && r.Action != "":
		return "action"
	case r.Feature != "":
		return "feature"
	default:
		return "conversation"
	}
}

func handlerName(r router.Reply) string {
	if r.Feature != "" {
		return r.Feature
	}
	return "conversation"
}
