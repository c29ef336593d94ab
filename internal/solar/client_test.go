package solar

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const productionBody = `{
	"production": [
		{"wNow": 4100.0, "whToday": 18000.0},
		{"wNow": 4200.5, "whToday": 18500.0, "whLifetime": 999999.0}
	],
	"consumption": [
		{"wNow": 1800.25, "whToday": 12300.0}
	]
}`

// newGatewayServer serves production data to any request carrying
// wantAuth and rejects everything else with a 401. When auths is non-nil
// it records the Authorization header of every request.
func newGatewayServer(t *testing.T, wantAuth string, auths *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auths != nil {
			*auths = append(*auths, r.Header.Get("Authorization"))
		}
		if r.Header.Get("Authorization") != wantAuth {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, productionBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newEnlightenServer serves the Enlighten login and Entrez token-exchange
// endpoints, handing out token to any valid login.
func newEnlightenServer(t *testing.T, token string, loginCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/login.json", func(w http.ResponseWriter, r *http.Request) {
		if loginCalls != nil {
			loginCalls.Add(1)
		}
		if r.FormValue("user[email]") == "" || r.FormValue("user[password]") == "" {
			http.Error(w, "missing credentials", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"session_id": "sess-1"}`)
	})
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"session_id"`
			SerialNum string `json:"serial_num"`
			Username  string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
			req.SessionID != "sess-1" || req.SerialNum == "" || req.Username == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, token)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// gatewayFor builds a Gateway pointed at srv.
func gatewayFor(t *testing.T, srv *httptest.Server, cfg GatewayConfig) *Gateway {
	t.Helper()
	cfg.Host = srv.URL
	g, err := NewGateway(cfg)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

// useEnlighten points the gateway's login endpoints at a test server.
func useEnlighten(g *Gateway, srv *httptest.Server) {
	g.loginURL = srv.URL + "/login/login.json"
	g.tokenURL = srv.URL + "/tokens"
}

// testJWT builds an unsigned JWT whose payload carries the given expiry.
func testJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	payload, err := json.Marshal(map[string]int64{"exp": exp.Unix()})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return "eyJhbGciOiJSUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestNewGatewayNormalizesHost(t *testing.T) {
	if _, err := NewGateway(GatewayConfig{}); err == nil {
		t.Fatal("expected error for empty host, got nil")
	}
	g, err := NewGateway(GatewayConfig{Host: "https://envoy.local/"})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	defer g.Close()
	if g.host != "envoy.local" {
		t.Errorf("host = %q, want envoy.local", g.host)
	}
}

func TestGatewayProduction(t *testing.T) {
	var auths []string
	srv := newGatewayServer(t, "Bearer tok", &auths)
	g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

	r, err := g.Production(context.Background())
	if err != nil {
		t.Fatalf("Production: %v", err)
	}
	if len(auths) != 1 || auths[0] != "Bearer tok" {
		t.Errorf("auth headers = %v, want one Bearer tok", auths)
	}
	if r.Timestamp.IsZero() {
		t.Error("Timestamp is zero, want the poll time")
	}
	// The second production entry is the system total when an EIM is
	// installed.
	if r.ProductionW != 4200.5 {
		t.Errorf("ProductionW = %v, want 4200.5", r.ProductionW)
	}
	if r.ConsumptionW != 1800.3 {
		t.Errorf("ConsumptionW = %v, want 1800.3", r.ConsumptionW)
	}
	if r.NetW != 2400.3 {
		t.Errorf("NetW = %v, want 2400.3", r.NetW)
	}
	if r.ProductionWh != 18500 || r.ConsumptionWh != 12300 {
		t.Errorf("energy = %v/%v, want 18500/12300", r.ProductionWh, r.ConsumptionWh)
	}
}

func TestGatewayProductionWithoutEIM(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"production": [{"wNow": 3000.0, "whToday": 0, "whLifetime": 123456.0}],
			"consumption": []
		}`)
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

	r, err := g.Production(context.Background())
	if err != nil {
		t.Fatalf("Production: %v", err)
	}
	if r.ProductionW != 3000 || r.ConsumptionW != 0 || r.NetW != 3000 {
		t.Errorf("power = %v/%v/%v, want 3000/0/3000", r.ProductionW, r.ConsumptionW, r.NetW)
	}
	if r.ProductionWh != 123456 {
		t.Errorf("ProductionWh = %v, want the whLifetime fallback 123456", r.ProductionWh)
	}
}

func TestGatewayInverters(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/production/inverters" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[
			{"serialNumber": "122100001", "lastReportDate": 1756000000, "lastReportWatts": 175, "maxReportWatts": 295},
			{"serialNumber": "122100002", "lastReportDate": 0, "lastReportWatts": 0, "maxReportWatts": 280}
		]`)
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

	readings, err := g.Inverters(context.Background())
	if err != nil {
		t.Fatalf("Inverters: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}
	if readings[0].Serial != "122100001" || readings[0].Watts != 175 || readings[0].MaxWatts != 295 {
		t.Errorf("readings[0] = %+v, want serial 122100001 at 175/295 W", readings[0])
	}
	if got := readings[0].Timestamp; !got.Equal(time.Unix(1756000000, 0)) {
		t.Errorf("readings[0].Timestamp = %v, want the last report time", got)
	}
	if !readings[1].Timestamp.IsZero() {
		t.Errorf("readings[1].Timestamp = %v, want zero for a never-reported inverter", readings[1].Timestamp)
	}
}

func TestGatewayRetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, productionBody)
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

	if _, err := g.Production(context.Background()); err != nil {
		t.Fatalf("Production: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d requests, want 2", n)
	}
}

func TestGatewayFailsAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

	_, err := g.Production(context.Background())
	if err == nil {
		t.Fatal("expected error after retry, got nil")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("error = %q, want the HTTP status in it", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d requests, want 2", n)
	}
}

func TestGateway401RefreshesToken(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("stale\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	var loginCalls atomic.Int32
	enl := newEnlightenServer(t, "fresh", &loginCalls)

	var auths []string
	srv := newGatewayServer(t, "Bearer fresh", &auths)
	g := gatewayFor(t, srv, GatewayConfig{
		TokenFile: tokenFile,
		Email:     "a@b.c",
		Password:  "pw",
		Serial:    "123",
	})
	useEnlighten(g, enl)

	if _, err := g.Production(context.Background()); err != nil {
		t.Fatalf("Production: %v", err)
	}
	if len(auths) != 2 || auths[0] != "Bearer stale" || auths[1] != "Bearer fresh" {
		t.Errorf("auth headers = %v, want stale then fresh", auths)
	}
	if n := loginCalls.Load(); n != 1 {
		t.Errorf("login calls = %d, want 1", n)
	}
	data, err := os.ReadFile(tokenFile)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	if string(data) != "fresh" {
		t.Errorf("token file = %q, want the refreshed token cached", data)
	}
}

func TestGateway401WithoutCredentials(t *testing.T) {
	var auths []string
	srv := newGatewayServer(t, "Bearer other", &auths)
	g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

	_, err := g.Production(context.Background())
	if err == nil {
		t.Fatal("expected error when the token is rejected without credentials, got nil")
	}
	if !strings.Contains(err.Error(), "credentials") {
		t.Errorf("error = %q, want a hint about missing credentials", err)
	}
	if len(auths) != 1 {
		t.Errorf("gateway saw %d requests, want 1", len(auths))
	}
}

func TestGatewayTokenLadder(t *testing.T) {
	t.Run("config token wins over cache", func(t *testing.T) {
		tokenFile := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(tokenFile, []byte("cached-tok"), 0o600); err != nil {
			t.Fatalf("write token file: %v", err)
		}
		var auths []string
		srv := newGatewayServer(t, "Bearer cfg-tok", &auths)
		g := gatewayFor(t, srv, GatewayConfig{Token: "cfg-tok", TokenFile: tokenFile})

		if _, err := g.Production(context.Background()); err != nil {
			t.Fatalf("Production: %v", err)
		}
		if auths[0] != "Bearer cfg-tok" {
			t.Errorf("auth = %q, want the config token", auths[0])
		}
		data, _ := os.ReadFile(tokenFile)
		if string(data) != "cfg-tok" {
			t.Errorf("token file = %q, want the config token cached", data)
		}
	})

	t.Run("cached token used without credentials", func(t *testing.T) {
		tokenFile := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(tokenFile, []byte("cached-tok\n"), 0o600); err != nil {
			t.Fatalf("write token file: %v", err)
		}
		var auths []string
		srv := newGatewayServer(t, "Bearer cached-tok", &auths)
		g := gatewayFor(t, srv, GatewayConfig{TokenFile: tokenFile})

		if _, err := g.Production(context.Background()); err != nil {
			t.Fatalf("Production: %v", err)
		}
		if auths[0] != "Bearer cached-tok" {
			t.Errorf("auth = %q, want the cached token", auths[0])
		}
	})

	t.Run("expiring cached token regenerates", func(t *testing.T) {
		tokenFile := filepath.Join(t.TempDir(), "token")
		expiring := testJWT(t, time.Now().Add(24*time.Hour))
		if err := os.WriteFile(tokenFile, []byte(expiring), 0o600); err != nil {
			t.Fatalf("write token file: %v", err)
		}
		var loginCalls atomic.Int32
		enl := newEnlightenServer(t, "fresh-tok", &loginCalls)
		var auths []string
		srv := newGatewayServer(t, "Bearer fresh-tok", &auths)
		g := gatewayFor(t, srv, GatewayConfig{
			TokenFile: tokenFile,
			Email:     "a@b.c",
			Password:  "pw",
			Serial:    "123",
		})
		useEnlighten(g, enl)

		if _, err := g.Production(context.Background()); err != nil {
			t.Fatalf("Production: %v", err)
		}
		if auths[0] != "Bearer fresh-tok" {
			t.Errorf("auth = %q, want a freshly generated token", auths[0])
		}
		if n := loginCalls.Load(); n != 1 {
			t.Errorf("login calls = %d, want 1", n)
		}
	})

	t.Run("fresh cached token skips login", func(t *testing.T) {
		tokenFile := filepath.Join(t.TempDir(), "token")
		fresh := testJWT(t, time.Now().Add(60*24*time.Hour))
		if err := os.WriteFile(tokenFile, []byte(fresh), 0o600); err != nil {
			t.Fatalf("write token file: %v", err)
		}
		var loginCalls atomic.Int32
		enl := newEnlightenServer(t, "unused", &loginCalls)
		var auths []string
		srv := newGatewayServer(t, "Bearer "+fresh, &auths)
		g := gatewayFor(t, srv, GatewayConfig{
			TokenFile: tokenFile,
			Email:     "a@b.c",
			Password:  "pw",
			Serial:    "123",
		})
		useEnlighten(g, enl)

		if _, err := g.Production(context.Background()); err != nil {
			t.Fatalf("Production: %v", err)
		}
		if n := loginCalls.Load(); n != 0 {
			t.Errorf("login calls = %d, want 0 for a token with months left", n)
		}
	})

	t.Run("failed regeneration falls back to cached", func(t *testing.T) {
		tokenFile := filepath.Join(t.TempDir(), "token")
		expiring := testJWT(t, time.Now().Add(24*time.Hour))
		if err := os.WriteFile(tokenFile, []byte(expiring), 0o600); err != nil {
			t.Fatalf("write token file: %v", err)
		}
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		}))
		t.Cleanup(down.Close)
		var auths []string
		srv := newGatewayServer(t, "Bearer "+expiring, &auths)
		g := gatewayFor(t, srv, GatewayConfig{
			TokenFile: tokenFile,
			Email:     "a@b.c",
			Password:  "pw",
			Serial:    "123",
		})
		useEnlighten(g, down)

		if _, err := g.Production(context.Background()); err != nil {
			t.Fatalf("Production: %v", err)
		}
		if auths[0] != "Bearer "+expiring {
			t.Errorf("auth = %q, want the cached token despite failed refresh", auths[0])
		}
	})

	t.Run("generated from credentials", func(t *testing.T) {
		tokenFile := filepath.Join(t.TempDir(), "token")
		var loginCalls atomic.Int32
		enl := newEnlightenServer(t, "fresh-tok", &loginCalls)
		var auths []string
		srv := newGatewayServer(t, "Bearer fresh-tok", &auths)
		g := gatewayFor(t, srv, GatewayConfig{
			TokenFile: tokenFile,
			Email:     "a@b.c",
			Password:  "pw",
			Serial:    "123",
		})
		useEnlighten(g, enl)

		if _, err := g.Production(context.Background()); err != nil {
			t.Fatalf("Production: %v", err)
		}
		if auths[0] != "Bearer fresh-tok" {
			t.Errorf("auth = %q, want the generated token", auths[0])
		}
		data, _ := os.ReadFile(tokenFile)
		if string(data) != "fresh-tok" {
			t.Errorf("token file = %q, want the generated token cached", data)
		}
	})

	t.Run("no token and no credentials", func(t *testing.T) {
		srv := newGatewayServer(t, "Bearer anything", nil)
		g := gatewayFor(t, srv, GatewayConfig{})

		if _, err := g.Production(context.Background()); err == nil {
			t.Fatal("expected error without any token source, got nil")
		}
	})
}

func TestTokenNeedsRefresh(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"months left", testJWT(t, time.Now().Add(90*24*time.Hour)), false},
		{"eight days left", testJWT(t, time.Now().Add(8*24*time.Hour)), false},
		{"six days left", testJWT(t, time.Now().Add(6*24*time.Hour)), true},
		{"expired", testJWT(t, time.Now().Add(-time.Hour)), true},
		{"undecodable assumed fine", "not-a-jwt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tokenNeedsRefresh(tt.token); got != tt.want {
				t.Errorf("tokenNeedsRefresh = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJWTExpiry(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		want := time.Unix(1756000000, 0)
		exp, ok := jwtExpiry(testJWT(t, want))
		if !ok {
			t.Fatal("jwtExpiry ok = false, want true")
		}
		if !exp.Equal(want) {
			t.Errorf("exp = %v, want %v", exp, want)
		}
	})

	t.Run("padded payload", func(t *testing.T) {
		payload := base64.URLEncoding.EncodeToString([]byte(`{"exp":175600000}`))
		if !strings.Contains(payload, "=") {
			t.Fatal("fixture payload should carry base64 padding")
		}
		exp, ok := jwtExpiry("h." + payload + ".s")
		if !ok {
			t.Fatal("jwtExpiry ok = false, want true for padded payload")
		}
		if !exp.Equal(time.Unix(175600000, 0)) {
			t.Errorf("exp = %v, want %v", exp, time.Unix(175600000, 0))
		}
	})

	t.Run("not a jwt", func(t *testing.T) {
		if _, ok := jwtExpiry("plain-token"); ok {
			t.Error("jwtExpiry ok = true, want false for a non-JWT token")
		}
	})

	t.Run("bad payload encoding", func(t *testing.T) {
		if _, ok := jwtExpiry("h.!!!.s"); ok {
			t.Error("jwtExpiry ok = true, want false for invalid base64")
		}
	})

	t.Run("no exp claim", func(t *testing.T) {
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"x"}`))
		if _, ok := jwtExpiry("h." + payload + ".s"); ok {
			t.Error("jwtExpiry ok = true, want false without exp")
		}
	})
}

func TestGatewayHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		var sawAuth string
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/info" {
				http.NotFound(w, r)
				return
			}
			sawAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)
		g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

		if !g.Health(context.Background()) {
			t.Error("Health = false, want true")
		}
		if sawAuth != "" {
			t.Errorf("Authorization = %q, want the /info probe unauthenticated", sawAuth)
		}
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "starting", http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)
		g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})

		if g.Health(context.Background()) {
			t.Error("Health = true, want false for HTTP 503")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		g := gatewayFor(t, srv, GatewayConfig{Token: "tok"})
		srv.Close()

		if g.Health(context.Background()) {
			t.Error("Health = true, want false for an unreachable gateway")
		}
	})
}
