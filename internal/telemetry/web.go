package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// DataSource provides the dashboard's read path. *Store satisfies it.
type DataSource interface {
	Stats(ctx context.Context) (*Stats, error)
	Sessions(ctx context.Context, limit, offset int) (*SessionPage, error)
	Session(ctx context.Context, id string) (*Session, error)
}

// Searcher answers free-text recall queries. *SemanticIndex satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// Dashboard serves the telemetry page and its JSON API on the admin server.
type Dashboard struct {
	src      DataSource
	searcher Searcher
	log      *slog.Logger
}

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithSearcher enables the /api/search endpoint.
func WithSearcher(s Searcher) DashboardOption {
	return func(d *Dashboard) { d.searcher = s }
}

// NewDashboard creates a dashboard reading from src.
func NewDashboard(src DataSource, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		src: src,
		log: slog.Default().With("component", "telemetry.web"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs the dashboard routes on mux.
func (d *Dashboard) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /telemetry", d.page)
	mux.HandleFunc("GET /api/stats", d.stats)
	mux.HandleFunc("GET /api/sessions", d.sessions)
	mux.HandleFunc("GET /api/sessions/{id}", d.session)
	mux.HandleFunc("GET /api/search", d.search)
}

func (d *Dashboard) page(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(dashboardHTML))
}

func (d *Dashboard) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.src.Stats(r.Context())
	if err != nil {
		d.fail(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, stats)
}

func (d *Dashboard) sessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	page, err := d.src.Sessions(r.Context(), limit, offset)
	if err != nil {
		d.fail(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, page)
}

func (d *Dashboard) session(w http.ResponseWriter, r *http.Request) {
	sess, err := d.src.Session(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		d.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		d.fail(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, sess)
}

func (d *Dashboard) search(w http.ResponseWriter, r *http.Request) {
	if d.searcher == nil {
		d.writeJSON(w, http.StatusNotImplemented,
			map[string]string{"error": "semantic search is not enabled"})
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		d.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing q parameter"})
		return
	}
	results, err := d.searcher.Search(r.Context(), query, queryInt(r, "k", 10))
	if err != nil {
		d.fail(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, results)
}

func (d *Dashboard) fail(w http.ResponseWriter, err error) {
	d.log.Error("telemetry request failed", "err", err)
	d.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (d *Dashboard) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.log.Error("failed to encode response", "err", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
