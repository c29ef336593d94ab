// Package media provides clients for the Radarr and Sonarr v3 APIs.
//
// Radarr manages the movie library and Sonarr the TV library. The media
// voice feature drives both through the narrow [RadarrClient] and
// [SonarrClient] interfaces: search, list, add, and tracked-status checks.
// HTTP implementations live in this package; in-memory fakes for tests and
// development live in the mock subpackage.
//
// All client methods are safe for concurrent use.
package media

import "context"

// SearchResult is one candidate returned by a lookup search. Exactly one of
// TMDBID or TVDBID is meaningful depending on which service produced it.
type SearchResult struct {
	// TMDBID is The Movie Database identifier (Radarr results).
	TMDBID int64

	// TVDBID is the TVDB identifier (Sonarr results).
	TVDBID int64

	// Title is the display title.
	Title string

	// Year is the release year.
	Year int

	// Overview is a short plot synopsis, possibly empty.
	Overview string

	// PosterURL is the remote poster image, possibly empty.
	PosterURL string
}

// Movie is one tracked movie in the Radarr library.
type Movie struct {
	TMDBID int64
	Title  string
	Year   int
}

// Series is one tracked series in the Sonarr library.
type Series struct {
	TVDBID int64
	Title  string
	Year   int
}

// RadarrClient is the movie-library surface consumed by the media feature.
type RadarrClient interface {
	// SearchMovies looks up movies by name. Results arrive in the
	// service's relevance order.
	SearchMovies(ctx context.Context, term string) ([]SearchResult, error)

	// Movies returns all tracked movies in library order (oldest first).
	Movies(ctx context.Context) ([]Movie, error)

	// AddMovie starts tracking the movie with the given TMDB id. The title
	// is carried for logging.
	AddMovie(ctx context.Context, tmdbID int64, title string) error

	// IsMovieTracked reports whether the movie is already in the library.
	IsMovieTracked(ctx context.Context, tmdbID int64) (bool, error)

	// Close releases the client's resources.
	Close() error
}

// SonarrClient is the TV-library surface consumed by the media feature.
type SonarrClient interface {
	// SearchSeries looks up series by name. Results arrive in the
	// service's relevance order.
	SearchSeries(ctx context.Context, term string) ([]SearchResult, error)

	// Series returns all tracked series in library order (oldest first).
	Series(ctx context.Context) ([]Series, error)

	// AddSeries starts tracking the series with the given TVDB id. The
	// title is carried for logging.
	AddSeries(ctx context.Context, tvdbID int64, title string) error

	// IsSeriesTracked reports whether the series is already in the library.
	IsSeriesTracked(ctx context.Context, tvdbID int64) (bool, error)

	// Close releases the client's resources.
	Close() error
}
