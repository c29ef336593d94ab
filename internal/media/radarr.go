package media

import (
	"context"
	"fmt"
)

// Compile-time assertion that Radarr implements RadarrClient.
var _ RadarrClient = (*Radarr)(nil)

// Radarr talks to a Radarr v3 instance, authenticating every request
// with the X-Api-Key header.
type Radarr struct {
	c *arrClient
}

// NewRadarr creates a client for the Radarr instance at baseURL
// (e.g., "http://localhost:7878"). baseURL must be non-empty.
func NewRadarr(baseURL, apiKey string) (*Radarr, error) {
	c, err := newArrClient("radarr", baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &Radarr{c: c}, nil
}

// SearchMovies queries the movie lookup endpoint, which searches TMDB
// behind the scenes.
func (r *Radarr) SearchMovies(ctx context.Context, term string) ([]SearchResult, error) {
	found, err := r.c.search(ctx, "/api/v3/movie/lookup", term)
	if err != nil {
		return nil, fmt.Errorf("media: radarr: search %q: %w", term, err)
	}
	results := make([]SearchResult, 0, len(found))
	for _, f := range found {
		results = append(results, SearchResult{
			TMDBID:    f.TMDBID,
			Title:     f.Title,
			Year:      f.Year,
			Overview:  f.Overview,
			PosterURL: f.RemotePoster,
		})
	}
	return results, nil
}

// Movies returns every tracked movie.
func (r *Radarr) Movies(ctx context.Context) ([]Movie, error) {
	var rows []struct {
		TMDBID int64  `json:"tmdbId"`
		Title  string `json:"title"`
		Year   int    `json:"year"`
	}
	if err := r.c.getJSON(ctx, "/api/v3/movie", nil, &rows); err != nil {
		return nil, fmt.Errorf("media: radarr: list movies: %w", err)
	}
	movies := make([]Movie, 0, len(rows))
	for _, row := range rows {
		movies = append(movies, Movie{TMDBID: row.TMDBID, Title: row.Title, Year: row.Year})
	}
	return movies, nil
}

// AddMovie adds the movie monitored, with an immediate search for a
// release. The library's first quality profile and root folder are used.
func (r *Radarr) AddMovie(ctx context.Context, tmdbID int64, title string) error {
	profile, root := r.c.defaults(ctx, "/movies")
	payload := map[string]any{
		"tmdbId":           tmdbID,
		"title":            title,
		"qualityProfileId": profile,
		"rootFolderPath":   root,
		"monitored":        true,
		"addOptions":       map[string]any{"searchForMovie": true},
	}
	if err := r.c.postJSON(ctx, "/api/v3/movie", payload); err != nil {
		return fmt.Errorf("media: radarr: add %q: %w", title, err)
	}
	return nil
}

// IsMovieTracked reports whether the movie is already in the library.
func (r *Radarr) IsMovieTracked(ctx context.Context, tmdbID int64) (bool, error) {
	movies, err := r.Movies(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range movies {
		if m.TMDBID == tmdbID {
			return true, nil
		}
	}
	return false, nil
}

// Close releases idle connections.
func (r *Radarr) Close() error {
	return r.c.close()
}
