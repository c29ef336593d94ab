// Package mock provides canned Radarr and Sonarr clients for development
// without the services on the network. Adds persist for the life of the
// client.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/hearthware/auricle/internal/media"
)

// cannedSearch pairs a lookup keyword with its results. The first
// keyword that overlaps the search term (either direction) wins.
type cannedSearch struct {
	key     string
	results []media.SearchResult
}

var movieLibrary = []media.Movie{
	{TMDBID: 27205, Title: "Inception", Year: 2010},
	{TMDBID: 438631, Title: "Dune", Year: 2021},
	{TMDBID: 872585, Title: "Oppenheimer", Year: 2023},
}

var movieSearches = []cannedSearch{
	{"inception", []media.SearchResult{
		{TMDBID: 27205, Title: "Inception", Year: 2010,
			Overview: "A skilled thief who steals corporate secrets through dream infiltration is given the inverse task of planting an idea."},
		{TMDBID: 991234, Title: "Inception: The Cobol Job", Year: 2010,
			Overview: "An animated prequel comic to the film Inception."},
	}},
	{"dune", []media.SearchResult{
		{TMDBID: 438631, Title: "Dune", Year: 2021,
			Overview: "Paul Atreides unites with the Fremen to seek revenge against those who destroyed his family."},
		{TMDBID: 693134, Title: "Dune: Part Two", Year: 2024,
			Overview: "Paul Atreides unites with the Fremen while on a warpath of revenge against the conspirators."},
	}},
	{"oppenheimer", []media.SearchResult{
		{TMDBID: 872585, Title: "Oppenheimer", Year: 2023,
			Overview: "The story of American scientist J. Robert Oppenheimer and his role in the development of the atomic bomb."},
	}},
}

var seriesLibrary = []media.Series{
	{TVDBID: 81189, Title: "Breaking Bad", Year: 2008},
	{TVDBID: 305288, Title: "Severance", Year: 2022},
	{TVDBID: 356546, Title: "Fallout", Year: 2024},
}

var seriesSearches = []cannedSearch{
	{"severance", []media.SearchResult{
		{TVDBID: 305288, Title: "Severance", Year: 2022,
			Overview: "Mark leads a team of office workers whose memories have been surgically divided between their work and personal lives."},
	}},
	{"breaking bad", []media.SearchResult{
		{TVDBID: 81189, Title: "Breaking Bad", Year: 2008,
			Overview: "A high school chemistry teacher turned methamphetamine manufacturer."},
		{TVDBID: 299061, Title: "Breaking Bad: Original Minisodes", Year: 2009,
			Overview: "A series of short webisodes."},
	}},
	{"the bear", []media.SearchResult{
		{TVDBID: 396238, Title: "The Bear", Year: 2022,
			Overview: "A young chef from the fine dining world returns to Chicago to run his family's sandwich shop."},
	}},
	{"batman", []media.SearchResult{
		{TVDBID: 76168, Title: "Batman: The Animated Series", Year: 1992,
			Overview: "The Dark Knight battles crime in Gotham City with the help of Robin and Batgirl."},
		{TVDBID: 403172, Title: "Batman: Caped Crusader", Year: 2024,
			Overview: "An all-new animated series following the Dark Knight."},
	}},
}

func findCanned(searches []cannedSearch, term string) []media.SearchResult {
	key := strings.ToLower(strings.TrimSpace(term))
	for _, c := range searches {
		if strings.Contains(key, c.key) || strings.Contains(c.key, key) {
			return slices.Clone(c.results)
		}
	}
	return nil
}

// titleCase uppercases the first letter of each word, for generic
// results on terms outside the canned set.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Compile-time assertion that Radarr implements media.RadarrClient.
var _ media.RadarrClient = (*Radarr)(nil)

// Radarr serves a small canned movie library from memory. Safe for
// concurrent use.
type Radarr struct {
	mu      sync.Mutex
	library []media.Movie
}

// NewRadarr creates a mock movie client preloaded with three movies.
func NewRadarr() *Radarr {
	return &Radarr{library: slices.Clone(movieLibrary)}
}

// SearchMovies returns canned results for terms touching the known set
// and a single generic result for anything else.
func (r *Radarr) SearchMovies(_ context.Context, term string) ([]media.SearchResult, error) {
	if results := findCanned(movieSearches, term); results != nil {
		return results, nil
	}
	title := titleCase(term)
	return []media.SearchResult{{
		TMDBID:   999999,
		Title:    title,
		Year:     2024,
		Overview: fmt.Sprintf("A movie called %s.", title),
	}}, nil
}

// Movies returns the current library.
func (r *Radarr) Movies(context.Context) ([]media.Movie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.library), nil
}

// AddMovie appends to the in-memory library.
func (r *Radarr) AddMovie(_ context.Context, tmdbID int64, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.library = append(r.library, media.Movie{TMDBID: tmdbID, Title: title, Year: 2024})
	slog.Info("media: mock radarr add", "title", title, "tmdb_id", tmdbID)
	return nil
}

// IsMovieTracked reports whether the movie is in the library.
func (r *Radarr) IsMovieTracked(_ context.Context, tmdbID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.library {
		if m.TMDBID == tmdbID {
			return true, nil
		}
	}
	return false, nil
}

// Close is a no-op.
func (r *Radarr) Close() error { return nil }

// Compile-time assertion that Sonarr implements media.SonarrClient.
var _ media.SonarrClient = (*Sonarr)(nil)

// Sonarr serves a small canned TV library from memory. Safe for
// concurrent use.
type Sonarr struct {
	mu      sync.Mutex
	library []media.Series
}

// NewSonarr creates a mock TV client preloaded with three series.
func NewSonarr() *Sonarr {
	return &Sonarr{library: slices.Clone(seriesLibrary)}
}

// SearchSeries returns canned results for terms touching the known set
// and a single generic result for anything else.
func (s *Sonarr) SearchSeries(_ context.Context, term string) ([]media.SearchResult, error) {
	if results := findCanned(seriesSearches, term); results != nil {
		return results, nil
	}
	title := titleCase(term)
	return []media.SearchResult{{
		TVDBID:   999999,
		Title:    title,
		Year:     2024,
		Overview: fmt.Sprintf("A show called %s.", title),
	}}, nil
}

// Series returns the current library.
func (s *Sonarr) Series(context.Context) ([]media.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.library), nil
}

// AddSeries appends to the in-memory library.
func (s *Sonarr) AddSeries(_ context.Context, tvdbID int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.library = append(s.library, media.Series{TVDBID: tvdbID, Title: title, Year: 2024})
	slog.Info("media: mock sonarr add", "title", title, "tvdb_id", tvdbID)
	return nil
}

// IsSeriesTracked reports whether the series is in the library.
func (s *Sonarr) IsSeriesTracked(_ context.Context, tvdbID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sr := range s.library {
		if sr.TVDBID == tvdbID {
			return true, nil
		}
	}
	return false, nil
}

// Close is a no-op.
func (s *Sonarr) Close() error { return nil }
