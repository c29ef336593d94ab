package media_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hearthware/auricle/internal/media"
)

// arrRecorder captures what the client sent across requests.
type arrRecorder struct {
	mu      sync.Mutex
	counts  map[string]int
	apiKey  string
	term    string
	addBody map[string]any
}

// newArrServer serves canned GET responses keyed by path; an empty
// string answers HTTP 500. POSTs decode into rec.addBody and answer
// 201.
func newArrServer(t *testing.T, rec *arrRecorder, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		if rec.counts == nil {
			rec.counts = make(map[string]int)
		}
		rec.counts[r.URL.Path]++
		rec.apiKey = r.Header.Get("X-Api-Key")
		if term := r.URL.Query().Get("term"); term != "" {
			rec.term = term
		}
		if r.Method == http.MethodPost {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				rec.mu.Unlock()
				t.Errorf("decode add payload: %v", err)
				http.Error(w, "bad payload", http.StatusBadRequest)
				return
			}
			rec.addBody = body
			rec.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			return
		}
		rec.mu.Unlock()

		body, ok := responses[r.URL.Path]
		switch {
		case !ok:
			http.NotFound(w, r)
		case body == "":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			fmt.Fprint(w, body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRadarrRequiresURL(t *testing.T) {
	if _, err := media.NewRadarr("", "key"); err == nil {
		t.Fatal("expected error for empty URL, got nil")
	}
}

func TestRadarrSearchMovies(t *testing.T) {
	rec := &arrRecorder{}
	srv := newArrServer(t, rec, map[string]string{
		"/api/v3/movie/lookup": `[
			{"tmdbId": 27205, "title": "Inception", "year": 2010, "overview": "Dream heists.", "remotePoster": "http://img/1.jpg"},
			{"tmdbId": 991234, "title": "Inception: The Cobol Job", "year": 2010}
		]`,
	})
	r, err := media.NewRadarr(srv.URL, "key-1")
	if err != nil {
		t.Fatalf("NewRadarr: %v", err)
	}
	defer r.Close()

	results, err := r.SearchMovies(context.Background(), "inception")
	if err != nil {
		t.Fatalf("SearchMovies: %v", err)
	}
	if rec.apiKey != "key-1" {
		t.Errorf("X-Api-Key = %q, want key-1", rec.apiKey)
	}
	if rec.term != "inception" {
		t.Errorf("term = %q, want inception", rec.term)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	want := media.SearchResult{
		TMDBID: 27205, Title: "Inception", Year: 2010,
		Overview: "Dream heists.", PosterURL: "http://img/1.jpg",
	}
	if results[0] != want {
		t.Errorf("results[0] = %+v, want %+v", results[0], want)
	}
}

func TestRadarrMovies(t *testing.T) {
	srv := newArrServer(t, &arrRecorder{}, map[string]string{
		"/api/v3/movie": `[
			{"tmdbId": 27205, "title": "Inception", "year": 2010},
			{"tmdbId": 438631, "title": "Dune", "year": 2021}
		]`,
	})
	r, _ := media.NewRadarr(srv.URL, "key")
	defer r.Close()

	movies, err := r.Movies(context.Background())
	if err != nil {
		t.Fatalf("Movies: %v", err)
	}
	if len(movies) != 2 {
		t.Fatalf("got %d movies, want 2", len(movies))
	}
	if movies[1] != (media.Movie{TMDBID: 438631, Title: "Dune", Year: 2021}) {
		t.Errorf("movies[1] = %+v", movies[1])
	}
}

func TestRadarrAddMovie(t *testing.T) {
	rec := &arrRecorder{}
	srv := newArrServer(t, rec, map[string]string{
		"/api/v3/qualityprofile": `[{"id": 6, "name": "HD-1080p"}, {"id": 4, "name": "SD"}]`,
		"/api/v3/rootfolder":     `[{"path": "/data/movies"}, {"path": "/mnt/movies"}]`,
	})
	r, _ := media.NewRadarr(srv.URL, "key")
	defer r.Close()

	if err := r.AddMovie(context.Background(), 27205, "Inception"); err != nil {
		t.Fatalf("AddMovie: %v", err)
	}

	body := rec.addBody
	if body["tmdbId"].(float64) != 27205 || body["title"] != "Inception" {
		t.Errorf("payload identity = %v/%v, want 27205/Inception", body["tmdbId"], body["title"])
	}
	if body["qualityProfileId"].(float64) != 6 {
		t.Errorf("qualityProfileId = %v, want the first profile 6", body["qualityProfileId"])
	}
	if body["rootFolderPath"] != "/data/movies" {
		t.Errorf("rootFolderPath = %v, want the first folder", body["rootFolderPath"])
	}
	if body["monitored"] != true {
		t.Errorf("monitored = %v, want true", body["monitored"])
	}
	opts, _ := body["addOptions"].(map[string]any)
	if opts["searchForMovie"] != true {
		t.Errorf("addOptions = %v, want searchForMovie true", body["addOptions"])
	}

	// A second add reuses the cached profile and folder.
	if err := r.AddMovie(context.Background(), 438631, "Dune"); err != nil {
		t.Fatalf("AddMovie: %v", err)
	}
	if n := rec.counts["/api/v3/qualityprofile"]; n != 1 {
		t.Errorf("quality profile fetches = %d, want 1", n)
	}
	if n := rec.counts["/api/v3/rootfolder"]; n != 1 {
		t.Errorf("root folder fetches = %d, want 1", n)
	}
}

func TestRadarrAddMovieFallbackDefaults(t *testing.T) {
	rec := &arrRecorder{}
	srv := newArrServer(t, rec, map[string]string{
		"/api/v3/qualityprofile": "",
		"/api/v3/rootfolder":     "",
	})
	r, _ := media.NewRadarr(srv.URL, "key")
	defer r.Close()

	if err := r.AddMovie(context.Background(), 27205, "Inception"); err != nil {
		t.Fatalf("AddMovie: %v", err)
	}
	if rec.addBody["qualityProfileId"].(float64) != 1 {
		t.Errorf("qualityProfileId = %v, want fallback 1", rec.addBody["qualityProfileId"])
	}
	if rec.addBody["rootFolderPath"] != "/movies" {
		t.Errorf("rootFolderPath = %v, want fallback /movies", rec.addBody["rootFolderPath"])
	}

	// Nothing was cached, so the next add retries the fetches.
	if err := r.AddMovie(context.Background(), 438631, "Dune"); err != nil {
		t.Fatalf("AddMovie: %v", err)
	}
	if n := rec.counts["/api/v3/qualityprofile"]; n != 2 {
		t.Errorf("quality profile fetches = %d, want 2", n)
	}
}

func TestRadarrAddMovieError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	r, _ := media.NewRadarr(srv.URL, "key")
	defer r.Close()

	err := r.AddMovie(context.Background(), 27205, "Inception")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Inception") {
		t.Errorf("error = %q, want the title in it", err)
	}
}

func TestRadarrIsMovieTracked(t *testing.T) {
	srv := newArrServer(t, &arrRecorder{}, map[string]string{
		"/api/v3/movie": `[{"tmdbId": 27205, "title": "Inception", "year": 2010}]`,
	})
	r, _ := media.NewRadarr(srv.URL, "key")
	defer r.Close()

	tracked, err := r.IsMovieTracked(context.Background(), 27205)
	if err != nil {
		t.Fatalf("IsMovieTracked: %v", err)
	}
	if !tracked {
		t.Error("IsMovieTracked(27205) = false, want true")
	}
	tracked, err = r.IsMovieTracked(context.Background(), 999)
	if err != nil {
		t.Fatalf("IsMovieTracked: %v", err)
	}
	if tracked {
		t.Error("IsMovieTracked(999) = true, want false")
	}
}

func TestRadarrSearchError(t *testing.T) {
	srv := newArrServer(t, &arrRecorder{}, map[string]string{
		"/api/v3/movie/lookup": "",
	})
	r, _ := media.NewRadarr(srv.URL, "key")
	defer r.Close()

	_, err := r.SearchMovies(context.Background(), "inception")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("error = %q, want the HTTP status in it", err)
	}
}
