package media

import (
	"context"
	"fmt"
)

// Compile-time assertion that Sonarr implements SonarrClient.
var _ SonarrClient = (*Sonarr)(nil)

// Sonarr talks to a Sonarr v3 instance, authenticating every request
// with the X-Api-Key header.
type Sonarr struct {
	c *arrClient
}

// NewSonarr creates a client for the Sonarr instance at baseURL
// (e.g., "http://localhost:8989"). baseURL must be non-empty.
func NewSonarr(baseURL, apiKey string) (*Sonarr, error) {
	c, err := newArrClient("sonarr", baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &Sonarr{c: c}, nil
}

// SearchSeries queries the series lookup endpoint, which searches TVDB
// behind the scenes.
func (s *Sonarr) SearchSeries(ctx context.Context, term string) ([]SearchResult, error) {
	found, err := s.c.search(ctx, "/api/v3/series/lookup", term)
	if err != nil {
		return nil, fmt.Errorf("media: sonarr: search %q: %w", term, err)
	}
	results := make([]SearchResult, 0, len(found))
	for _, f := range found {
		results = append(results, SearchResult{
			TVDBID:    f.TVDBID,
			Title:     f.Title,
			Year:      f.Year,
			Overview:  f.Overview,
			PosterURL: f.RemotePoster,
		})
	}
	return results, nil
}

// Series returns every tracked series.
func (s *Sonarr) Series(ctx context.Context) ([]Series, error) {
	var rows []struct {
		TVDBID int64  `json:"tvdbId"`
		Title  string `json:"title"`
		Year   int    `json:"year"`
	}
	if err := s.c.getJSON(ctx, "/api/v3/series", nil, &rows); err != nil {
		return nil, fmt.Errorf("media: sonarr: list series: %w", err)
	}
	series := make([]Series, 0, len(rows))
	for _, row := range rows {
		series = append(series, Series{TVDBID: row.TVDBID, Title: row.Title, Year: row.Year})
	}
	return series, nil
}

// AddSeries adds the series monitored, with an immediate search for
// missing episodes. The library's first quality profile and root folder
// are used.
func (s *Sonarr) AddSeries(ctx context.Context, tvdbID int64, title string) error {
	profile, root := s.c.defaults(ctx, "/tv")
	payload := map[string]any{
		"tvdbId":           tvdbID,
		"title":            title,
		"qualityProfileId": profile,
		"rootFolderPath":   root,
		"monitored":        true,
		"addOptions":       map[string]any{"searchForMissingEpisodes": true},
	}
	if err := s.c.postJSON(ctx, "/api/v3/series", payload); err != nil {
		return fmt.Errorf("media: sonarr: add %q: %w", title, err)
	}
	return nil
}

// IsSeriesTracked reports whether the series is already in the library.
func (s *Sonarr) IsSeriesTracked(ctx context.Context, tvdbID int64) (bool, error) {
	series, err := s.Series(ctx)
	if err != nil {
		return false, err
	}
	for _, sr := range series {
		if sr.TVDBID == tvdbID {
			return true, nil
		}
	}
	return false, nil
}

// Close releases idle connections.
func (s *Sonarr) Close() error {
	return s.c.close()
}
