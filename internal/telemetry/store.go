package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("telemetry: session not found")

// Schema is the SQL DDL for the telemetry tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id             UUID PRIMARY KEY,
    started_at     TIMESTAMPTZ NOT NULL,
    ended_at       TIMESTAMPTZ,
    exchange_count INTEGER NOT NULL DEFAULT 0,
    wake_model     TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);

CREATE TABLE IF NOT EXISTS exchanges (
    id         UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id),
    sequence   INTEGER NOT NULL,

    recording_started_at TIMESTAMPTZ,
    recording_ended_at   TIMESTAMPTZ,
    recording_ms         INTEGER,
    stt_started_at       TIMESTAMPTZ,
    stt_ended_at         TIMESTAMPTZ,
    stt_ms               INTEGER,
    routing_started_at   TIMESTAMPTZ,
    routing_ended_at     TIMESTAMPTZ,
    routing_ms           INTEGER,
    tts_started_at       TIMESTAMPTZ,
    tts_ended_at         TIMESTAMPTZ,
    tts_ms               INTEGER,
    playback_started_at  TIMESTAMPTZ,
    playback_ended_at    TIMESTAMPTZ,
    playback_ms          INTEGER,

    transcription   TEXT,
    routing_path    TEXT,
    matched_feature TEXT,
    feature_action  TEXT,
    response_text   TEXT,

    used_vad     BOOLEAN NOT NULL DEFAULT FALSE,
    had_bargein  BOOLEAN NOT NULL DEFAULT FALSE,
    is_follow_up BOOLEAN NOT NULL DEFAULT FALSE,
    error        TEXT,

    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at);

CREATE TABLE IF NOT EXISTS llm_calls (
    id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    exchange_id   UUID NOT NULL REFERENCES exchanges(id),
    call_type     TEXT NOT NULL,
    started_at    TIMESTAMPTZ,
    ended_at      TIMESTAMPTZ,
    duration_ms   INTEGER,
    model         TEXT,
    system_prompt TEXT,
    user_message  TEXT,
    response_text TEXT,
    input_tokens  INTEGER,
    output_tokens INTEGER,
    stop_reason   TEXT,
    error         TEXT
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_exchange ON llm_calls(exchange_id);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists sessions, exchanges, and LLM calls in PostgreSQL. The
// recorder writes through it and the dashboard reads from it.
type Store struct {
	db DB
}

// NewStore creates a Store on an existing connection or pool. Call
// [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables and indexes if
// they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("telemetry: migrate: %w", err)
	}
	return nil
}

// SaveSession persists a complete session with all exchanges and LLM calls.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	const q = `INSERT INTO sessions (id, started_at, ended_at, exchange_count, wake_model)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(ctx, q,
		sess.ID, sess.StartedAt, nullTime(sess.EndedAt), len(sess.Exchanges), nullStr(sess.WakeModel))
	if err != nil {
		return fmt.Errorf("telemetry: save session %s: %w", sess.ID, err)
	}
	for _, ex := range sess.Exchanges {
		if err := s.saveExchange(ctx, ex); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveExchange(ctx context.Context, ex *Exchange) error {
	const q = `INSERT INTO exchanges (
    id, session_id, sequence,
    recording_started_at, recording_ended_at, recording_ms,
    stt_started_at, stt_ended_at, stt_ms,
    routing_started_at, routing_ended_at, routing_ms,
    tts_started_at, tts_ended_at, tts_ms,
    playback_started_at, playback_ended_at, playback_ms,
    transcription, routing_path, matched_feature, feature_action, response_text,
    used_vad, had_bargein, is_follow_up, error
) VALUES (
    $1, $2, $3,
    $4, $5, $6,
    $7, $8, $9,
    $10, $11, $12,
    $13, $14, $15,
    $16, $17, $18,
    $19, $20, $21, $22, $23,
    $24, $25, $26, $27
)`
	args := []any{ex.ID, ex.SessionID, ex.Sequence}
	for _, name := range PhaseNames {
		p := ex.Phases[name]
		args = append(args, nullTime(p.StartedAt), nullTime(p.EndedAt), nullMs(p.Duration()))
	}
	args = append(args,
		nullStr(ex.Transcription), nullStr(ex.RoutePath), nullStr(ex.MatchedFeature),
		nullStr(ex.FeatureAction), nullStr(ex.ResponseText),
		ex.UsedVAD, ex.HadBargeIn, ex.IsFollowUp, nullStr(ex.Error))
	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("telemetry: save exchange %s: %w", ex.ID, err)
	}
	for _, call := range ex.LLMCalls {
		if err := s.saveLLMCall(ctx, ex.ID, call); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveLLMCall(ctx context.Context, exchangeID string, call LLMCall) error {
	const q = `INSERT INTO llm_calls (
    exchange_id, call_type, started_at, ended_at, duration_ms,
    model, system_prompt, user_message, response_text,
    input_tokens, output_tokens, stop_reason, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.Exec(ctx, q,
		exchangeID, call.CallType, nullTime(call.StartedAt), nullTime(call.EndedAt),
		nullMs(call.Duration()),
		nullStr(call.Model), nullStr(call.SystemPrompt), nullStr(call.UserMessage),
		nullStr(call.ResponseText),
		call.InputTokens, call.OutputTokens, nullStr(call.StopReason), nullStr(call.Error))
	if err != nil {
		return fmt.Errorf("telemetry: save llm call: %w", err)
	}
	return nil
}

// Stats aggregates interaction telemetry for the dashboard.
type Stats struct {
	TotalSessions     int   `json:"total_sessions"`
	TotalExchanges    int   `json:"total_exchanges"`
	TotalLLMCalls     int   `json:"total_llm_calls"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	ErrorCount        int   `json:"error_count"`

	AvgRecordingMs *float64 `json:"avg_recording_ms"`
	AvgSTTMs       *float64 `json:"avg_stt_ms"`
	AvgRoutingMs   *float64 `json:"avg_routing_ms"`
	AvgTTSMs       *float64 `json:"avg_tts_ms"`
	AvgPlaybackMs  *float64 `json:"avg_playback_ms"`

	FeatureCounts map[string]int `json:"feature_counts"`
	RoutingCounts map[string]int `json:"routing_counts"`

	SessionsToday  int `json:"sessions_today"`
	ExchangesToday int `json:"exchanges_today"`
}

// Stats computes aggregate counts and per-phase latency averages.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	const q = `SELECT
    (SELECT COUNT(*) FROM sessions),
    (SELECT COUNT(*) FROM exchanges),
    (SELECT COUNT(*) FROM llm_calls),
    (SELECT COALESCE(SUM(input_tokens), 0) FROM llm_calls),
    (SELECT COALESCE(SUM(output_tokens), 0) FROM llm_calls),
    (SELECT COUNT(*) FROM exchanges WHERE error IS NOT NULL),
    (SELECT AVG(recording_ms) FROM exchanges WHERE recording_ms IS NOT NULL),
    (SELECT AVG(stt_ms) FROM exchanges WHERE stt_ms IS NOT NULL),
    (SELECT AVG(routing_ms) FROM exchanges WHERE routing_ms IS NOT NULL),
    (SELECT AVG(tts_ms) FROM exchanges WHERE tts_ms IS NOT NULL),
    (SELECT AVG(playback_ms) FROM exchanges WHERE playback_ms IS NOT NULL),
    (SELECT COUNT(*) FROM sessions WHERE started_at >= date_trunc('day', now())),
    (SELECT COUNT(*) FROM exchanges WHERE created_at >= date_trunc('day', now()))`
	st := &Stats{}
	err := s.db.QueryRow(ctx, q).Scan(
		&st.TotalSessions, &st.TotalExchanges, &st.TotalLLMCalls,
		&st.TotalInputTokens, &st.TotalOutputTokens, &st.ErrorCount,
		&st.AvgRecordingMs, &st.AvgSTTMs, &st.AvgRoutingMs, &st.AvgTTSMs, &st.AvgPlaybackMs,
		&st.SessionsToday, &st.ExchangesToday)
	if err != nil {
		return nil, fmt.Errorf("telemetry: stats: %w", err)
	}

	var cerr error
	st.FeatureCounts, cerr = s.countBy(ctx, "matched_feature")
	if cerr != nil {
		return nil, cerr
	}
	st.RoutingCounts, cerr = s.countBy(ctx, "routing_path")
	if cerr != nil {
		return nil, cerr
	}
	return st, nil
}

// countBy groups exchanges by a non-null column. The column name is one of
// two compile-time constants, never user input.
func (s *Store) countBy(ctx context.Context, column string) (map[string]int, error) {
	q := fmt.Sprintf(`SELECT %s, COUNT(*) FROM exchanges WHERE %s IS NOT NULL
GROUP BY %s ORDER BY COUNT(*) DESC`, column, column, column)
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("telemetry: count by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("telemetry: count by %s: %w", column, err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("telemetry: count by %s: %w", column, err)
	}
	return counts, nil
}

// SessionSummary is one row of the dashboard's session list.
type SessionSummary struct {
	ID                 string     `json:"id"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at"`
	ExchangeCount      int        `json:"exchange_count"`
	WakeModel          *string    `json:"wake_model"`
	DurationMs         *int64     `json:"duration_ms"`
	FirstTranscription *string    `json:"first_transcription"`
}

// SessionPage is a paginated slice of recent sessions.
type SessionPage struct {
	Total    int              `json:"total"`
	Sessions []SessionSummary `json:"sessions"`
}

// maxSessionLimit caps the page size of the session list.
const maxSessionLimit = 200

// Sessions lists recent sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit, offset int) (*SessionPage, error) {
	if limit <= 0 || limit > maxSessionLimit {
		limit = maxSessionLimit
	}
	if offset < 0 {
		offset = 0
	}

	page := &SessionPage{Sessions: []SessionSummary{}}
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("telemetry: sessions: %w", err)
	}

	const q = `SELECT s.id, s.started_at, s.ended_at, s.exchange_count, s.wake_model,
    (SELECT e.transcription FROM exchanges e
      WHERE e.session_id = s.id ORDER BY e.sequence ASC LIMIT 1)
FROM sessions s ORDER BY s.started_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("telemetry: sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.StartedAt, &sum.EndedAt, &sum.ExchangeCount,
			&sum.WakeModel, &sum.FirstTranscription); err != nil {
			return nil, fmt.Errorf("telemetry: sessions: %w", err)
		}
		if sum.EndedAt != nil {
			ms := sum.EndedAt.Sub(sum.StartedAt).Milliseconds()
			sum.DurationMs = &ms
		}
		page.Sessions = append(page.Sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("telemetry: sessions: %w", err)
	}
	return page, nil
}

// Session loads one session with all exchanges and their LLM calls. Returns
// [ErrNotFound] when the ID is unknown.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	const q = `SELECT id, started_at, ended_at, wake_model FROM sessions WHERE id = $1`
	sess := &Session{}
	var endedAt *time.Time
	var wakeModel *string
	err := s.db.QueryRow(ctx, q, id).Scan(&sess.ID, &sess.StartedAt, &endedAt, &wakeModel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: session %s: %w", id, err)
	}
	if endedAt != nil {
		sess.EndedAt = *endedAt
	}
	if wakeModel != nil {
		sess.WakeModel = *wakeModel
	}

	if err := s.loadExchanges(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) loadExchanges(ctx context.Context, sess *Session) error {
	const q = `SELECT id, sequence,
    recording_started_at, recording_ended_at,
    stt_started_at, stt_ended_at,
    routing_started_at, routing_ended_at,
    tts_started_at, tts_ended_at,
    playback_started_at, playback_ended_at,
    transcription, routing_path, matched_feature, feature_action, response_text,
    used_vad, had_bargein, is_follow_up, error
FROM exchanges WHERE session_id = $1 ORDER BY sequence ASC`
	rows, err := s.db.Query(ctx, q, sess.ID)
	if err != nil {
		return fmt.Errorf("telemetry: session %s exchanges: %w", sess.ID, err)
	}
	defer rows.Close()

	byID := make(map[string]*Exchange)
	for rows.Next() {
		ex := &Exchange{SessionID: sess.ID}
		starts := make([]*time.Time, len(PhaseNames))
		ends := make([]*time.Time, len(PhaseNames))
		var transcription, routePath, feature, action, response, exErr *string
		dest := []any{&ex.ID, &ex.Sequence}
		for i := range PhaseNames {
			dest = append(dest, &starts[i], &ends[i])
		}
		dest = append(dest, &transcription, &routePath, &feature, &action, &response,
			&ex.UsedVAD, &ex.HadBargeIn, &ex.IsFollowUp, &exErr)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("telemetry: session %s exchanges: %w", sess.ID, err)
		}
		for i, name := range PhaseNames {
			if starts[i] == nil && ends[i] == nil {
				continue
			}
			if ex.Phases == nil {
				ex.Phases = make(map[string]Phase, len(PhaseNames))
			}
			ex.Phases[name] = Phase{StartedAt: deref(starts[i]), EndedAt: deref(ends[i])}
		}
		ex.Transcription = derefStr(transcription)
		ex.RoutePath = derefStr(routePath)
		ex.MatchedFeature = derefStr(feature)
		ex.FeatureAction = derefStr(action)
		ex.ResponseText = derefStr(response)
		ex.Error = derefStr(exErr)
		sess.Exchanges = append(sess.Exchanges, ex)
		byID[ex.ID] = ex
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("telemetry: session %s exchanges: %w", sess.ID, err)
	}
	return s.loadLLMCalls(ctx, sess.ID, byID)
}

func (s *Store) loadLLMCalls(ctx context.Context, sessionID string, byID map[string]*Exchange) error {
	const q = `SELECT c.exchange_id, c.call_type, c.started_at, c.ended_at,
    c.model, c.system_prompt, c.user_message, c.response_text,
    c.input_tokens, c.output_tokens, c.stop_reason, c.error
FROM llm_calls c JOIN exchanges e ON c.exchange_id = e.id
WHERE e.session_id = $1 ORDER BY c.id ASC`
	rows, err := s.db.Query(ctx, q, sessionID)
	if err != nil {
		return fmt.Errorf("telemetry: session %s llm calls: %w", sessionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var exchangeID string
		var call LLMCall
		var started, ended *time.Time
		var model, system, user, response, stop, callErr *string
		var inTok, outTok *int
		if err := rows.Scan(&exchangeID, &call.CallType, &started, &ended,
			&model, &system, &user, &response, &inTok, &outTok, &stop, &callErr); err != nil {
			return fmt.Errorf("telemetry: session %s llm calls: %w", sessionID, err)
		}
		call.StartedAt = deref(started)
		call.EndedAt = deref(ended)
		call.Model = derefStr(model)
		call.SystemPrompt = derefStr(system)
		call.UserMessage = derefStr(user)
		call.ResponseText = derefStr(response)
		call.StopReason = derefStr(stop)
		call.Error = derefStr(callErr)
		if inTok != nil {
			call.InputTokens = *inTok
		}
		if outTok != nil {
			call.OutputTokens = *outTok
		}
		if ex, ok := byID[exchangeID]; ok {
			ex.LLMCalls = append(ex.LLMCalls, call)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("telemetry: session %s llm calls: %w", sessionID, err)
	}
	return nil
}

// Prune deletes sessions older than cutoff along with their exchanges and
// LLM calls. Returns the number of sessions removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	const calls = `DELETE FROM llm_calls WHERE exchange_id IN
    (SELECT e.id FROM exchanges e JOIN sessions s ON e.session_id = s.id
      WHERE s.started_at < $1)`
	if _, err := s.db.Exec(ctx, calls, cutoff); err != nil {
		return 0, fmt.Errorf("telemetry: prune: %w", err)
	}
	const exchanges = `DELETE FROM exchanges WHERE session_id IN
    (SELECT id FROM sessions WHERE started_at < $1)`
	if _, err := s.db.Exec(ctx, exchanges, cutoff); err != nil {
		return 0, fmt.Errorf("telemetry: prune: %w", err)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("telemetry: prune: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullMs(d time.Duration) *int64 {
	if d <= 0 {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func deref(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
