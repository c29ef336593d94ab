package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// persistTimeout bounds the background write of a finished session.
const persistTimeout = 10 * time.Second

// SessionSaver persists a finished session. *Store satisfies it.
type SessionSaver interface {
	SaveSession(ctx context.Context, s *Session) error
}

// Indexer embeds an exchange for semantic recall. *SemanticIndex satisfies
// it.
type Indexer interface {
	Index(ctx context.Context, ex *Exchange) error
}

// Recorder accumulates exchanges for the session in flight and persists the
// session when it ends. All methods are safe for concurrent use; persistence
// runs in the background so the pipeline never waits on the database.
//
// LLM calls are reported out of band by the provider wrapper while the
// router runs, so the recorder buffers them and attaches the batch to the
// next recorded exchange.
type Recorder struct {
	store SessionSaver
	index Indexer
	log   *slog.Logger

	mu      sync.Mutex
	sess    *Session
	pending []LLMCall

	wg sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithIndexer enables semantic indexing of persisted exchanges.
func WithIndexer(ix Indexer) RecorderOption {
	return func(r *Recorder) { r.index = ix }
}

// NewRecorder creates a recorder writing finished sessions through store.
func NewRecorder(store SessionSaver, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		log:   slog.Default().With("component", "telemetry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartSession opens a new session. An unfinished previous session is
// finalized and persisted first.
func (r *Recorder) StartSession(wakeModel string) {
	r.mu.Lock()
	if prev := r.sess; prev != nil {
		r.sess = nil
		r.mu.Unlock()
		r.finish(prev)
		r.mu.Lock()
	}
	r.sess = NewSession(wakeModel)
	r.pending = nil
	r.mu.Unlock()
}

// RecordLLMCall buffers an LLM call for attachment to the next exchange.
// Calls reported outside a session are dropped.
func (r *Recorder) RecordLLMCall(call LLMCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return
	}
	r.pending = append(r.pending, call)
}

// RecordExchange adds a finished exchange to the session in flight,
// adopting any buffered LLM calls. Exchanges recorded outside a session are
// dropped with a warning.
func (r *Recorder) RecordExchange(ex *Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		r.log.Warn("exchange recorded outside a session, dropping")
		return
	}
	ex.LLMCalls = append(ex.LLMCalls, r.pending...)
	r.pending = nil
	r.sess.AddExchange(ex)
}

// EndSession finalizes the session in flight and persists it in the
// background. A session with no exchanges is still persisted: wake words
// that led nowhere are worth counting.
func (r *Recorder) EndSession() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.pending = nil
	r.mu.Unlock()
	if sess == nil {
		return
	}
	r.finish(sess)
}

// Close waits for in-flight persistence to complete.
func (r *Recorder) Close() error {
	r.EndSession()
	r.wg.Wait()
	return nil
}

func (r *Recorder) finish(sess *Session) {
	sess.Finish()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := r.store.SaveSession(ctx, sess); err != nil {
			r.log.Error("failed to persist session", "session", sess.ID, "err", err)
			return
		}
		if r.index == nil {
			return
		}
		for _, ex := range sess.Exchanges {
			if ex.Transcription == "" && ex.ResponseText == "" {
				continue
			}
			if err := r.index.Index(ctx, ex); err != nil {
				r.log.Warn("failed to index exchange", "exchange", ex.ID, "err", err)
			}
		}
	}()
}
