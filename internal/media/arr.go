package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const requestTimeout = 15 * time.Second

// arrClient is the HTTP plumbing shared by [Radarr] and [Sonarr]. Both
// services expose the same v3 shapes for every endpoint used here:
// lookup, library list, add, quality profiles, and root folders.
type arrClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// The quality profile and root folder for adds are fetched once and
	// cached for the life of the client. A failed fetch falls back to
	// service defaults so the add is still attempted.
	mu               sync.Mutex
	qualityProfileID int64
	rootFolderPath   string
}

func newArrClient(name, baseURL, apiKey string) (*arrClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("media: %s URL must not be empty", name)
	}
	return &arrClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

// lookupResult is the subset of a lookup response both services share.
// Only one of the id fields is populated, depending on the service.
type lookupResult struct {
	TMDBID       int64  `json:"tmdbId"`
	TVDBID       int64  `json:"tvdbId"`
	Title        string `json:"title"`
	Year         int    `json:"year"`
	Overview     string `json:"overview"`
	RemotePoster string `json:"remotePoster"`
}

func (a *arrClient) search(ctx context.Context, path, term string) ([]lookupResult, error) {
	var results []lookupResult
	q := url.Values{"term": {term}}
	if err := a.getJSON(ctx, path, q, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// defaults returns the quality profile id and root folder path for an
// add, fetching and caching them on first use. fallbackRoot is used when
// the root folder list cannot be read.
func (a *arrClient) defaults(ctx context.Context, fallbackRoot string) (int64, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.qualityProfileID == 0 {
		var profiles []struct {
			ID int64 `json:"id"`
		}
		if err := a.getJSON(ctx, "/api/v3/qualityprofile", nil, &profiles); err != nil {
			slog.Warn("media: quality profile fetch failed", "service", a.name, "error", err)
		} else if len(profiles) > 0 {
			a.qualityProfileID = profiles[0].ID
		}
	}
	if a.rootFolderPath == "" {
		var folders []struct {
			Path string `json:"path"`
		}
		if err := a.getJSON(ctx, "/api/v3/rootfolder", nil, &folders); err != nil {
			slog.Warn("media: root folder fetch failed", "service", a.name, "error", err)
		} else if len(folders) > 0 {
			a.rootFolderPath = folders[0].Path
		}
	}

	profile, root := a.qualityProfileID, a.rootFolderPath
	if profile == 0 {
		profile = 1
	}
	if root == "" {
		root = fallbackRoot
	}
	return profile, root
}

func (a *arrClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", path, err)
	}
	return nil
}

// postJSON sends body as JSON. The response body is discarded; both
// services echo the created resource but nothing here needs it.
func (a *arrClient) postJSON(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("POST %s: encode request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	req.Header.Set("X-Api-Key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("POST %s returned HTTP %d", path, resp.StatusCode)
	}
	return nil
}

func (a *arrClient) close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}
