package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hearthware/auricle/internal/media"
)

// Disambiguation answers.
var (
	mediaYes    = regexp.MustCompile(`(?i)\b(yes|yeah|yep|sure|do it|go ahead|add it|confirm)\b`)
	mediaNoNext = regexp.MustCompile(`(?i)\b(no|nope|nah|next|skip|not that one)\b`)
	mediaCancel = regexp.MustCompile(`(?i)\b(cancel|never\s*mind|forget\s*it|stop|quit|done)\b`)
)

// Command patterns.
var (
	mediaListMovies = regexp.MustCompile(
		`(?i)\b(?:what\s+movies?\s+(?:do\s+I\s+have|am\s+I\s+tracking)` +
			`|list\s+(?:my\s+)?movies?` +
			`|show\s+(?:me\s+)?my\s+movies?)\b`)
	mediaListShows = regexp.MustCompile(
		`(?i)\b(?:what\s+(?:shows?|series|tv)\s+(?:do\s+I\s+have|am\s+I\s+tracking)` +
			`|list\s+(?:my\s+)?(?:shows?|series|tv)` +
			`|show\s+(?:me\s+)?my\s+(?:shows?|series|tv))\b`)
	mediaCheck = regexp.MustCompile(
		`(?i)\b(?:is\s+(.+?)\s+in\s+my\s+(?:library|collection)` +
			`|do\s+I\s+have\s+(.+?))\s*\??$`)
	mediaTrackMovie = regexp.MustCompile(
		`(?i)\b(?:track|add|download|grab|get)\s+(?:the\s+)?movie\s+(.+)`)
	mediaTrackShow = regexp.MustCompile(
		`(?i)\b(?:track|add|download|grab|get)\s+(?:the\s+)?(?:show|series|tv\s+show)\s+(.+)`)
	mediaTrackToMovies = regexp.MustCompile(
		`(?i)\b(?:track|add|download|grab|get)\s+(.+?)\s+to\s+(?:my\s+)?movies?\b`)
	mediaTrackToShows = regexp.MustCompile(
		`(?i)\b(?:track|add|download|grab|get)\s+(.+?)\s+to\s+(?:my\s+)?(?:shows?|series|tv)\b`)
	mediaTrackGeneric = regexp.MustCompile(
		`(?i)\b(?:track|download|grab)\s+(?:the\s+)?(.+)`)
	mediaAny = regexp.MustCompile(
		`(?i)\b(movie|movies|show|shows|series|tv|track|download|library|radarr|sonarr)\b`)
)

// Overviews longer than this are cut for TTS.
const mediaOverviewLimit = 150

// pendingMedia is an in-flight disambiguation: a search produced several
// candidates and the user is stepping through them.
type pendingMedia struct {
	mediaType string // "movie" or "show"
	term      string
	results   []media.SearchResult
	index     int
	expires   time.Time
}

// Media manages the movie and TV libraries by voice through Radarr and
// Sonarr.
//
// When a search returns several candidates the feature enters a
// disambiguation flow: it describes one candidate at a time and the user
// confirms, skips, selects by number, or cancels. The pending choice
// expires after the configured TTL.
type Media struct {
	radarr media.RadarrClient
	sonarr media.SonarrClient
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending *pendingMedia
}

var _ Feature = (*Media)(nil)

// NewMedia creates the media feature. Either client may be nil when that
// service is not configured; the corresponding commands then answer with a
// setup hint. A non-positive ttl falls back to one minute.
func NewMedia(radarr media.RadarrClient, sonarr media.SonarrClient, ttl time.Duration) *Media {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Media{radarr: radarr, sonarr: sonarr, ttl: ttl, now: time.Now}
}

func (m *Media) Name() string { return "Media Library" }

func (m *Media) ShortDescription() string {
	var parts []string
	if m.radarr != nil {
		parts = append(parts, "movies")
	}
	if m.sonarr != nil {
		parts = append(parts, "TV shows")
	}
	kinds := strings.Join(parts, " and ")
	if kinds == "" {
		kinds = "media"
	}
	return fmt.Sprintf("Search, track, and manage your %s", kinds)
}

func (m *Media) Description() string {
	return `Media library: triggered by "movie", "show", "series", "track", ` +
		`"download", "library". Commands: "what movies do I have", ` +
		`"is Breaking Bad in my library", "track the movie Inception", ` +
		`"add Severance to my shows", "download Dune".`
}

func (m *Media) ActionSchema() map[string]map[string]string {
	return map[string]map[string]string{
		"track":       {"title": "string", "media_type": "string"},
		"list":        {"media_type": "string"},
		"check":       {"title": "string"},
		"confirm":     {},
		"skip":        {},
		"cancel":      {},
		"select":      {"index": "int"},
		"refine_year": {"year": "int"},
		"refine_type": {"media_type": "string"},
	}
}

// Matches routes yes/no/cancel answers here while a disambiguation is
// active, and any media-related mention otherwise.
func (m *Media) Matches(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && !m.expired() {
		if mediaYes.MatchString(text) || mediaNoNext.MatchString(text) || mediaCancel.MatchString(text) {
			return true
		}
	}
	return mediaAny.MatchString(text)
}

func (m *Media) Handle(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// An active disambiguation consumes the answer first.
	if m.pending != nil && !m.expired() {
		switch {
		case mediaYes.MatchString(text):
			return m.confirmPending(ctx)
		case mediaNoNext.MatchString(text):
			return m.nextPending(ctx)
		case mediaCancel.MatchString(text):
			return m.cancelPending(), nil
		}
	}
	if m.pending != nil && m.expired() {
		m.pending = nil
	}

	if mediaListMovies.MatchString(text) {
		return m.listMovies(ctx)
	}
	if mediaListShows.MatchString(text) {
		return m.listShows(ctx)
	}
	if sub := mediaCheck.FindStringSubmatch(text); sub != nil {
		title := sub[1]
		if title == "" {
			title = sub[2]
		}
		return m.checkTitle(ctx, strings.TrimSpace(title))
	}
	if sub := firstMatch(text, mediaTrackMovie, mediaTrackToMovies); sub != nil {
		return m.trackMovie(ctx, strings.TrimSpace(sub[1]))
	}
	if sub := firstMatch(text, mediaTrackShow, mediaTrackToShows); sub != nil {
		return m.trackShow(ctx, strings.TrimSpace(sub[1]))
	}
	if sub := mediaTrackGeneric.FindStringSubmatch(text); sub != nil {
		return m.trackGeneric(ctx, strings.TrimSpace(sub[1]))
	}
	return m.status(ctx)
}

func (m *Media) Execute(ctx context.Context, action string, params map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil && m.expired() {
		m.pending = nil
	}

	switch action {
	case "track":
		if isShowType(params["media_type"]) {
			return m.trackShow(ctx, params["title"])
		}
		if strings.EqualFold(params["media_type"], "movie") {
			return m.trackMovie(ctx, params["title"])
		}
		return m.trackGeneric(ctx, params["title"])
	case "list":
		if isShowType(params["media_type"]) {
			return m.listShows(ctx)
		}
		return m.listMovies(ctx)
	case "check":
		return m.checkTitle(ctx, params["title"])
	case "confirm":
		if m.pending == nil {
			return "There's nothing to confirm right now.", nil
		}
		return m.confirmPending(ctx)
	case "skip":
		if m.pending == nil {
			return "There's nothing to skip right now.", nil
		}
		return m.nextPending(ctx)
	case "cancel":
		return m.cancelPending(), nil
	case "select":
		return m.selectIndex(ctx, params["index"])
	case "refine_year":
		return m.refineYear(params["year"])
	case "refine_type":
		return m.refineType(ctx, params["media_type"])
	}
	return m.status(ctx)
}

func (m *Media) ExpectsFollowUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil && !m.expired()
}

func (m *Media) Context() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || m.expired() {
		return ""
	}
	r := m.pending.results[m.pending.index]
	return fmt.Sprintf(
		"Active media disambiguation for %q: candidate %d of %d is %s (%d). "+
			"The user can confirm it, skip to the next, select one by number, or cancel.",
		m.pending.term, m.pending.index+1, len(m.pending.results), r.Title, r.Year)
}

func (m *Media) Close() error {
	var errs []error
	if m.radarr != nil {
		errs = append(errs, m.radarr.Close())
	}
	if m.sonarr != nil {
		errs = append(errs, m.sonarr.Close())
	}
	return errors.Join(errs...)
}

// -- List and check --

func (m *Media) listMovies(ctx context.Context) (string, error) {
	if m.radarr == nil {
		return "Movie tracking isn't configured.", nil
	}
	movies, err := m.radarr.Movies(ctx)
	if err != nil {
		return "", fmt.Errorf("feature: media: %w", err)
	}
	if len(movies) == 0 {
		return "You don't have any movies being tracked.", nil
	}
	titles := make([]string, len(movies))
	for i, mv := range movies {
		titles[i] = fmt.Sprintf("%s (%d)", mv.Title, mv.Year)
	}
	return formatTitleList(titles, "movie", "movies"), nil
}

func (m *Media) listShows(ctx context.Context) (string, error) {
	if m.sonarr == nil {
		return "TV show tracking isn't configured.", nil
	}
	series, err := m.sonarr.Series(ctx)
	if err != nil {
		return "", fmt.Errorf("feature: media: %w", err)
	}
	if len(series) == 0 {
		return "You don't have any shows being tracked.", nil
	}
	titles := make([]string, len(series))
	for i, s := range series {
		titles[i] = fmt.Sprintf("%s (%d)", s.Title, s.Year)
	}
	return formatTitleList(titles, "show", "shows"), nil
}

// formatTitleList renders a library listing for TTS, truncating to the
// five most recently added titles for large libraries.
func formatTitleList(titles []string, singular, pluralNoun string) string {
	n := len(titles)
	if n == 1 {
		return fmt.Sprintf("You have one %s: %s.", singular, titles[0])
	}
	if n <= 5 {
		return fmt.Sprintf("You have %d %s: %s.", n, pluralNoun, joinList(titles))
	}
	return fmt.Sprintf("You have %d %s. Some recent ones are %s.",
		n, pluralNoun, joinList(titles[n-5:]))
}

func (m *Media) checkTitle(ctx context.Context, title string) (string, error) {
	lower := strings.ToLower(title)
	var found []string
	if m.radarr != nil {
		movies, err := m.radarr.Movies(ctx)
		if err != nil {
			return "", fmt.Errorf("feature: media: %w", err)
		}
		for _, mv := range movies {
			if strings.Contains(strings.ToLower(mv.Title), lower) {
				found = append(found, fmt.Sprintf("%s (%d)", mv.Title, mv.Year))
			}
		}
	}
	if m.sonarr != nil {
		series, err := m.sonarr.Series(ctx)
		if err != nil {
			return "", fmt.Errorf("feature: media: %w", err)
		}
		for _, s := range series {
			if strings.Contains(strings.ToLower(s.Title), lower) {
				found = append(found, fmt.Sprintf("%s (%d)", s.Title, s.Year))
			}
		}
	}

	switch len(found) {
	case 0:
		return fmt.Sprintf("I don't see %s in your library.", title), nil
	case 1:
		return fmt.Sprintf("Yes, you have %s in your library.", found[0]), nil
	}
	return fmt.Sprintf("Yes, you have %s in your library.", strings.Join(found, " and ")), nil
}

// -- Track --

func (m *Media) trackMovie(ctx context.Context, title string) (string, error) {
	if m.radarr == nil {
		return "Movie tracking isn't configured. Set up Radarr to enable it.", nil
	}
	results, err := m.radarr.SearchMovies(ctx, title)
	if err != nil {
		return "", fmt.Errorf("feature: media: %w", err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any movies matching %s.", title), nil
	}
	return m.startDisambiguation(ctx, "movie", title, results)
}

func (m *Media) trackShow(ctx context.Context, title string) (string, error) {
	if m.sonarr == nil {
		return "TV show tracking isn't configured. Set up Sonarr to enable it.", nil
	}
	results, err := m.sonarr.SearchSeries(ctx, title)
	if err != nil {
		return "", fmt.Errorf("feature: media: %w", err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any shows matching %s.", title), nil
	}
	return m.startDisambiguation(ctx, "show", title, results)
}

// trackGeneric tries movies first, then shows.
func (m *Media) trackGeneric(ctx context.Context, title string) (string, error) {
	if m.radarr != nil {
		results, err := m.radarr.SearchMovies(ctx, title)
		if err != nil {
			return "", fmt.Errorf("feature: media: %w", err)
		}
		if len(results) > 0 {
			return m.startDisambiguation(ctx, "movie", title, results)
		}
	}
	if m.sonarr != nil {
		results, err := m.sonarr.SearchSeries(ctx, title)
		if err != nil {
			return "", fmt.Errorf("feature: media: %w", err)
		}
		if len(results) > 0 {
			return m.startDisambiguation(ctx, "show", title, results)
		}
	}
	if m.radarr == nil && m.sonarr == nil {
		return "Media tracking isn't configured.", nil
	}
	return fmt.Sprintf("I couldn't find anything matching %s.", title), nil
}

// -- Disambiguation --

func (m *Media) startDisambiguation(ctx context.Context, mediaType, term string, results []media.SearchResult) (string, error) {
	tracked, err := m.isTracked(ctx, mediaType, results[0])
	if err != nil {
		return "", fmt.Errorf("feature: media: %w", err)
	}
	if tracked {
		return fmt.Sprintf("You're already tracking %s from %d.",
			results[0].Title, results[0].Year), nil
	}

	m.pending = &pendingMedia{
		mediaType: mediaType,
		term:      term,
		results:   results,
		expires:   m.now().Add(m.ttl),
	}
	return m.describeCurrent(), nil
}

func (m *Media) describeCurrent() string {
	r := m.pending.results[m.pending.index]
	desc := fmt.Sprintf("I found %s from %d.", r.Title, r.Year)
	if ov := r.Overview; ov != "" {
		if utf8.RuneCountInString(ov) > mediaOverviewLimit {
			ov = string([]rune(ov)[:mediaOverviewLimit-3]) + "..."
		}
		desc += " " + ov
	}
	return desc + " Should I add this one?"
}

// confirmPending adds the current candidate to the library. Add failures
// are answered in-flow rather than surfaced as routing faults; the search
// already succeeded and the user deserves a direct answer.
func (m *Media) confirmPending(ctx context.Context) (string, error) {
	r := m.pending.results[m.pending.index]
	mediaType := m.pending.mediaType
	m.pending = nil

	switch {
	case mediaType == "movie" && m.radarr != nil:
		if err := m.radarr.AddMovie(ctx, r.TMDBID, r.Title); err != nil {
			slog.Warn("feature: media: add movie failed", "title", r.Title, "error", err)
			return fmt.Sprintf("Sorry, there was a problem adding %s.", r.Title), nil
		}
		return fmt.Sprintf("Done! I've added %s (%d) to your movies.", r.Title, r.Year), nil
	case mediaType == "show" && m.sonarr != nil:
		if err := m.sonarr.AddSeries(ctx, r.TVDBID, r.Title); err != nil {
			slog.Warn("feature: media: add series failed", "title", r.Title, "error", err)
			return fmt.Sprintf("Sorry, there was a problem adding %s.", r.Title), nil
		}
		return fmt.Sprintf("Done! I've added %s (%d) to your shows.", r.Title, r.Year), nil
	}
	return "Something went wrong — the media service isn't available.", nil
}

// nextPending advances to the next candidate, skipping past one that is
// already tracked.
func (m *Media) nextPending(ctx context.Context) (string, error) {
	m.pending.index++
	m.pending.expires = m.now().Add(m.ttl)

	if m.pending.index >= len(m.pending.results) {
		m.pending = nil
		return "That's all the results I found. You can try searching again with different words.", nil
	}

	r := m.pending.results[m.pending.index]
	tracked, err := m.isTracked(ctx, m.pending.mediaType, r)
	if err != nil {
		return "", fmt.Errorf("feature: media: %w", err)
	}
	if tracked {
		already := fmt.Sprintf("You're already tracking %s from %d.", r.Title, r.Year)
		m.pending.index++
		if m.pending.index >= len(m.pending.results) {
			m.pending = nil
			return already + " That's all the results.", nil
		}
		return already + " " + m.describeCurrent(), nil
	}
	return m.describeCurrent(), nil
}

func (m *Media) cancelPending() string {
	m.pending = nil
	return "Okay, cancelled."
}

func (m *Media) selectIndex(ctx context.Context, indexStr string) (string, error) {
	if m.pending == nil {
		return "There's nothing to select from right now.", nil
	}
	n := len(m.pending.results)
	i, err := strconv.Atoi(strings.TrimSpace(indexStr))
	if err != nil || i < 1 || i > n {
		return fmt.Sprintf("Pick a number between 1 and %d.", n), nil
	}
	m.pending.index = i - 1
	m.pending.expires = m.now().Add(m.ttl)

	r := m.pending.results[m.pending.index]
	tracked, err := m.isTracked(ctx, m.pending.mediaType, r)
	if err != nil {
		return "", fmt.Errorf("feature: media: %w", err)
	}
	if tracked {
		return fmt.Sprintf("You're already tracking %s from %d.", r.Title, r.Year), nil
	}
	return m.describeCurrent(), nil
}

func (m *Media) refineYear(yearStr string) (string, error) {
	if m.pending == nil {
		return "There's no search to narrow down right now.", nil
	}
	year, err := strconv.Atoi(strings.TrimSpace(yearStr))
	if err != nil {
		return "I didn't catch the year.", nil
	}

	var filtered []media.SearchResult
	for _, r := range m.pending.results {
		if r.Year == year {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return fmt.Sprintf("None of the results are from %d.", year), nil
	}
	m.pending.results = filtered
	m.pending.index = 0
	m.pending.expires = m.now().Add(m.ttl)
	return m.describeCurrent(), nil
}

// refineType re-runs the pending search against the other library.
func (m *Media) refineType(ctx context.Context, mediaType string) (string, error) {
	if m.pending == nil {
		return "There's no search to narrow down right now.", nil
	}
	term := m.pending.term
	m.pending = nil
	if isShowType(mediaType) {
		return m.trackShow(ctx, term)
	}
	return m.trackMovie(ctx, term)
}

// -- Status and helpers --

func (m *Media) status(ctx context.Context) (string, error) {
	var parts []string
	if m.radarr != nil {
		movies, err := m.radarr.Movies(ctx)
		if err != nil {
			return "", fmt.Errorf("feature: media: %w", err)
		}
		parts = append(parts, fmt.Sprintf("%d %s",
			len(movies), plural(len(movies), "movie", "movies")))
	}
	if m.sonarr != nil {
		series, err := m.sonarr.Series(ctx)
		if err != nil {
			return "", fmt.Errorf("feature: media: %w", err)
		}
		parts = append(parts, fmt.Sprintf("%d %s",
			len(series), plural(len(series), "show", "shows")))
	}
	if len(parts) == 0 {
		return "Media tracking isn't configured.", nil
	}
	return fmt.Sprintf("You're tracking %s. You can ask me to list, check, or track titles.",
		strings.Join(parts, " and ")), nil
}

func (m *Media) isTracked(ctx context.Context, mediaType string, r media.SearchResult) (bool, error) {
	switch {
	case mediaType == "movie" && m.radarr != nil:
		return m.radarr.IsMovieTracked(ctx, r.TMDBID)
	case mediaType == "show" && m.sonarr != nil:
		return m.sonarr.IsSeriesTracked(ctx, r.TVDBID)
	}
	return false, nil
}

func (m *Media) expired() bool {
	return m.pending == nil || m.now().After(m.pending.expires)
}

func isShowType(t string) bool {
	switch strings.ToLower(t) {
	case "show", "shows", "series", "tv":
		return true
	}
	return false
}

func firstMatch(text string, patterns ...*regexp.Regexp) []string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m
		}
	}
	return nil
}
