package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	openMeteoURL   = "https://api.open-meteo.com/v1/forecast"
	weatherTimeout = 10 * time.Second
)

// WeatherClient fetches current conditions from the Open-Meteo API, which
// serves forecasts without an API key. The collector polls it so readings
// can be correlated with temperature and cloud cover later.
type WeatherClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewWeatherClient creates a client for the public Open-Meteo API.
func NewWeatherClient() *WeatherClient {
	return &WeatherClient{
		baseURL:    openMeteoURL,
		httpClient: &http.Client{Timeout: weatherTimeout},
	}
}

// Current returns the conditions at the given coordinates.
func (w *WeatherClient) Current(ctx context.Context, lat, lon float64) (Weather, error) {
	q := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"current":   {"temperature_2m,cloud_cover,weather_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Weather{}, fmt.Errorf("solar: create weather request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Weather{}, fmt.Errorf("solar: weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Weather{}, fmt.Errorf("solar: open-meteo returned HTTP %d", resp.StatusCode)
	}

	var data struct {
		Current struct {
			Temperature2m float64 `json:"temperature_2m"`
			CloudCover    float64 `json:"cloud_cover"`
			WeatherCode   int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Weather{}, fmt.Errorf("solar: decode weather response: %w", err)
	}
	return Weather{
		TemperatureC:  data.Current.Temperature2m,
		CloudCoverPct: data.Current.CloudCover,
		Code:          data.Current.WeatherCode,
	}, nil
}
