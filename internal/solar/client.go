package solar

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	enlightenLoginURL = "https://enlighten.enphaseenergy.com/login/login.json"
	entrezTokenURL    = "https://entrez.enphaseenergy.com/tokens"

	gatewayTimeout = 10 * time.Second
	loginTimeout   = 15 * time.Second
	healthTimeout  = 5 * time.Second

	// Tokens this close to expiry are regenerated ahead of time.
	tokenRefreshWindow = 7 * 24 * time.Hour
)

// Client polls an Enphase IQ Gateway.
type Client interface {
	// Production returns the current system-level production snapshot.
	Production(ctx context.Context) (Reading, error)

	// Inverters returns the latest report from every microinverter.
	Inverters(ctx context.Context) ([]InverterReading, error)

	// Health reports whether the gateway answers on the local network.
	Health(ctx context.Context) bool

	// Close releases idle connections.
	Close() error
}

// Compile-time assertion that Gateway implements Client.
var _ Client = (*Gateway)(nil)

// GatewayConfig configures [NewGateway]. Host is required; the remaining
// fields depend on how the token is sourced.
type GatewayConfig struct {
	// Host is the gateway address on the local network, with or without
	// the https:// scheme.
	Host string

	// Token is a pre-issued gateway JWT. When set it always wins over the
	// cached file and is written there for later runs.
	Token string

	// TokenFile caches the JWT between runs. Empty disables caching.
	TokenFile string

	// Email and Password are Enlighten account credentials used to
	// generate a token when none is configured or cached.
	Email    string
	Password string

	// Serial is the gateway serial number, required for token generation.
	Serial string
}

// Gateway is the HTTP [Client] for a local Enphase IQ Gateway.
//
// The gateway serves HTTPS with a self-signed certificate and authorises
// requests with an Enlighten-issued JWT. The token is resolved lazily on
// the first request: an explicit config token wins, then the cached token
// file, then an Enlighten login with an Entrez token exchange. A token
// within seven days of expiry is regenerated ahead of time, and a 401
// from the gateway forces one regeneration and retry.
type Gateway struct {
	host        string
	configToken string
	tokenFile   string
	email       string
	password    string
	serial      string

	// loginURL and tokenURL default to the public Enphase endpoints.
	loginURL string
	tokenURL string

	httpClient  *http.Client // gateway, self-signed TLS
	loginClient *http.Client // Enlighten and Entrez, public TLS

	mu    sync.Mutex
	token string
}

// NewGateway creates a client for the gateway at cfg.Host. No network
// traffic happens until the first request.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	host := strings.TrimRight(strings.TrimPrefix(cfg.Host, "https://"), "/")
	if host == "" {
		return nil, errors.New("solar: gateway host must not be empty")
	}
	return &Gateway{
		host:        host,
		configToken: cfg.Token,
		tokenFile:   cfg.TokenFile,
		email:       cfg.Email,
		password:    cfg.Password,
		serial:      cfg.Serial,
		loginURL:    enlightenLoginURL,
		tokenURL:    entrezTokenURL,
		httpClient: &http.Client{
			Timeout: gatewayTimeout,
			Transport: &http.Transport{
				// The gateway's certificate is self-signed.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		loginClient: &http.Client{Timeout: loginTimeout},
	}, nil
}

// productionEntry is one element of the production or consumption arrays
// in /production.json.
type productionEntry struct {
	WNow       float64 `json:"wNow"`
	WhToday    float64 `json:"whToday"`
	WhLifetime float64 `json:"whLifetime"`
}

type productionResponse struct {
	Production  []productionEntry `json:"production"`
	Consumption []productionEntry `json:"consumption"`
}

// Production fetches /production.json and extracts the system totals.
// The production array holds the microinverter rollup at index 0 and,
// when a consumption-metering EIM is installed, the system total at
// index 1; consumption is always index 0.
func (g *Gateway) Production(ctx context.Context) (Reading, error) {
	var data productionResponse
	if err := g.get(ctx, "/production.json", &data); err != nil {
		return Reading{}, err
	}

	var prod, cons productionEntry
	switch {
	case len(data.Production) > 1:
		prod = data.Production[1]
	case len(data.Production) == 1:
		prod = data.Production[0]
	}
	if len(data.Consumption) > 0 {
		cons = data.Consumption[0]
	}

	prodWh := prod.WhToday
	if prodWh == 0 {
		prodWh = prod.WhLifetime
	}
	consWh := cons.WhToday
	if consWh == 0 {
		consWh = cons.WhLifetime
	}

	return Reading{
		Timestamp:     time.Now(),
		ProductionW:   round1(prod.WNow),
		ConsumptionW:  round1(cons.WNow),
		NetW:          round1(prod.WNow - cons.WNow),
		ProductionWh:  round1(prodWh),
		ConsumptionWh: round1(consWh),
	}, nil
}

// inverterReport is one element of /api/v1/production/inverters.
type inverterReport struct {
	SerialNumber    string  `json:"serialNumber"`
	LastReportDate  int64   `json:"lastReportDate"`
	LastReportWatts float64 `json:"lastReportWatts"`
	MaxReportWatts  float64 `json:"maxReportWatts"`
}

// Inverters fetches the per-inverter production report. Timestamps carry
// each inverter's own last report time; inverters that have never
// reported keep a zero timestamp.
func (g *Gateway) Inverters(ctx context.Context) ([]InverterReading, error) {
	var data []inverterReport
	if err := g.get(ctx, "/api/v1/production/inverters", &data); err != nil {
		return nil, err
	}

	readings := make([]InverterReading, 0, len(data))
	for _, inv := range data {
		r := InverterReading{
			Serial:   inv.SerialNumber,
			Watts:    inv.LastReportWatts,
			MaxWatts: inv.MaxReportWatts,
		}
		if inv.LastReportDate > 0 {
			r.Timestamp = time.Unix(inv.LastReportDate, 0)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// Health reports whether the gateway responds on its unauthenticated
// /info endpoint.
func (g *Gateway) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+g.host+"/info", nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (g *Gateway) Close() error {
	g.httpClient.CloseIdleConnections()
	g.loginClient.CloseIdleConnections()
	return nil
}

// get performs an authenticated GET against the gateway and decodes the
// JSON response into out. One transient failure is retried; a 401 forces
// a token refresh before the retry.
func (g *Gateway) get(ctx context.Context, path string, out any) error {
	token, err := g.ensureToken(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := range 2 {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+g.host+path, nil)
		if err != nil {
			return fmt.Errorf("solar: create gateway request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("solar: gateway %s: %w", path, err)
			if attempt == 0 {
				slog.Warn("solar: gateway request failed, retrying once", "path", path, "error", err)
				continue
			}
			return lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			slog.Warn("solar: gateway returned 401, refreshing token")
			token, err = g.refreshToken(ctx)
			if err != nil {
				return err
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("solar: gateway %s returned HTTP %d", path, resp.StatusCode)
			if attempt == 0 {
				slog.Warn("solar: gateway request failed, retrying once", "path", path, "status", resp.StatusCode)
				continue
			}
			return lastErr
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("solar: decode gateway %s response: %w", path, err)
			if attempt == 0 {
				continue
			}
			return lastErr
		}
		return nil
	}
	return lastErr
}

// ensureToken resolves the JWT used for gateway requests: the configured
// token wins, then the cached token file (regenerated ahead of expiry
// when credentials allow), then a fresh Enlighten login.
func (g *Gateway) ensureToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" {
		return g.token, nil
	}

	if g.configToken != "" {
		g.saveToken(g.configToken)
		logToken("config", g.configToken)
		g.token = g.configToken
		return g.token, nil
	}

	if cached := g.loadCachedToken(); cached != "" {
		if tokenNeedsRefresh(cached) && g.haveCredentials() {
			slog.Info("solar: cached gateway token expiring soon, regenerating")
			token, err := g.generateToken(ctx)
			if err == nil {
				g.token = token
				return g.token, nil
			}
			slog.Warn("solar: token regeneration failed, using cached token", "error", err)
		}
		logToken("cache", cached)
		g.token = cached
		return g.token, nil
	}

	if !g.haveCredentials() {
		return "", errors.New("solar: no gateway token and no Enlighten credentials configured")
	}
	token, err := g.generateToken(ctx)
	if err != nil {
		return "", err
	}
	g.token = token
	return g.token, nil
}

// refreshToken discards the current token and generates a fresh one from
// the Enlighten credentials. Called after a 401, when even a cached token
// has been rejected.
func (g *Gateway) refreshToken(ctx context.Context) (string, error) {
	if !g.haveCredentials() {
		return "", errors.New("solar: gateway rejected the token and no Enlighten credentials are configured")
	}
	token, err := g.generateToken(ctx)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	return token, nil
}

// generateToken logs in to Enlighten and exchanges the session for a
// long-lived gateway JWT via Entrez. The token is cached on success.
func (g *Gateway) generateToken(ctx context.Context) (string, error) {
	form := url.Values{
		"user[email]":    {g.email},
		"user[password]": {g.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.loginURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("solar: create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.loginClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("solar: enlighten login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("solar: enlighten login returned HTTP %d", resp.StatusCode)
	}
	var login struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", fmt.Errorf("solar: decode enlighten login response: %w", err)
	}
	if login.SessionID == "" {
		return "", errors.New("solar: enlighten login did not return a session id")
	}

	payload, err := json.Marshal(map[string]string{
		"session_id": login.SessionID,
		"serial_num": g.serial,
		"username":   g.email,
	})
	if err != nil {
		return "", fmt.Errorf("solar: encode token request: %w", err)
	}
	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL,
		bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("solar: create token request: %w", err)
	}
	tokenReq.Header.Set("Content-Type", "application/json")

	tokenResp, err := g.loginClient.Do(tokenReq)
	if err != nil {
		return "", fmt.Errorf("solar: entrez token exchange: %w", err)
	}
	defer tokenResp.Body.Close()
	if tokenResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("solar: entrez token exchange returned HTTP %d", tokenResp.StatusCode)
	}
	body, err := io.ReadAll(tokenResp.Body)
	if err != nil {
		return "", fmt.Errorf("solar: read entrez token: %w", err)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", errors.New("solar: entrez returned an empty token")
	}

	g.saveToken(token)
	slog.Info("solar: generated gateway token via Enlighten")
	return token, nil
}

func (g *Gateway) haveCredentials() bool {
	return g.email != "" && g.password != "" && g.serial != ""
}

// loadCachedToken reads the token file. A missing file is not an error.
func (g *Gateway) loadCachedToken() string {
	if g.tokenFile == "" {
		return ""
	}
	data, err := os.ReadFile(g.tokenFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("solar: could not read cached gateway token", "path", g.tokenFile, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// saveToken caches the token for later runs. Failures only warn.
func (g *Gateway) saveToken(token string) {
	if g.tokenFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(g.tokenFile), 0o755); err != nil {
		slog.Warn("solar: could not create token cache directory", "path", g.tokenFile, "error", err)
		return
	}
	if err := os.WriteFile(g.tokenFile, []byte(token), 0o600); err != nil {
		slog.Warn("solar: could not cache gateway token", "path", g.tokenFile, "error", err)
	}
}

// tokenNeedsRefresh reports whether the token is expired or within seven
// days of expiry. Tokens whose expiry cannot be decoded are assumed fine.
func tokenNeedsRefresh(token string) bool {
	exp, ok := jwtExpiry(token)
	if !ok {
		return false
	}
	return !time.Now().Before(exp.Add(-tokenRefreshWindow))
}

// jwtExpiry decodes the exp claim of a JWT without verifying the
// signature. The gateway only checks the token server-side; locally the
// payload is needed just to plan refreshes.
func jwtExpiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0), true
}

// logToken announces where the gateway token came from and how long it
// has left, so expiry trouble shows up in the logs well before the
// gateway starts rejecting requests.
func logToken(source, token string) {
	exp, ok := jwtExpiry(token)
	if !ok {
		slog.Info("solar: using gateway token", "source", source, "expires", "unknown")
		return
	}
	days := int(time.Until(exp).Hours() / 24)
	switch {
	case days < 0:
		slog.Warn("solar: gateway token expired", "source", source, "days_ago", -days)
	case days <= 7:
		slog.Warn("solar: gateway token expiring soon", "source", source, "days_left", days)
	default:
		slog.Info("solar: using gateway token", "source", source, "expires", exp.Format("2006-01-02"))
	}
}

// round1 keeps one decimal, the precision the gateway itself reports.
func round1(v float64) float64 { return math.Round(v*10) / 10 }
