package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := Config{
		PaymentMockEnabled:  true,
		AnalysisMaxAttempts: 2,
		AnalysisBackoff:     time.Millisecond,
	}
	cfg.normalize()
	return cfg
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func postJSON(t *testing.T, url, body string) map[string]any {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer res.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(res.Body).Decode(&out)
	if res.StatusCode >= 300 {
		t.Fatalf("POST %s: status=%d body=%v", url, res.StatusCode, out)
	}
	return out
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("GET %s: decode: %v", url, err)
	}
	return out
}

func runScenario(t *testing.T, a *App) {
	t.Helper()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	base := srv.URL + "/v1"

	created := postJSON(t, base+"/sessions", `{"name":"Alice","answers":{"q1":"A","q2":"B"}}`)
	id := created["session_id"].(string)
	postJSON(t, base+"/sessions/"+id+"/pay", "")
	code := getJSON(t, base+"/sessions/"+id)["invite_code"].(string)
	postJSON(t, base+"/invites/"+code+"/submit", `{"name":"Bob","answers":{"q1":"A","q2":"A"}}`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		view := getJSON(t, base+"/sessions/"+id)
		if view["status"] == "finished" {
			analysis, _ := view["analysis"].(map[string]any)
			if analysis["title"] == "" || analysis["score"] == nil {
				t.Fatalf("finished view without analysis: %v", view)
			}
			break
		}
		if view["status"] != "processing" {
			t.Fatalf("unexpected status while analyzing: %v", view)
		}
		if time.Now().After(deadline) {
			t.Fatalf("analysis did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	for _, want := range []string{"duet_sessions_created_total 1", `duet_partner_submissions_total{outcome="submitted"} 1`, `duet_analysis_attempts_total{result="ok"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestApp_InMemoryScenario(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())
	if a.storage.kind != "memory" {
		t.Fatalf("store kind=%q want memory", a.storage.kind)
	}
	runScenario(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestApp_SQLiteScenario(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "duet.db")
	a := newTestApp(t, cfg)
	if a.storage.kind != "sqlite" {
		t.Fatalf("store kind=%q want sqlite", a.storage.kind)
	}
	runScenario(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestApp_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		requireDB bool
		want      int
	}{
		{name: "memory store ready", want: http.StatusOK},
		{name: "db required but absent", requireDB: true, want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.ReadinessRequireDB = tc.requireDB
			a := newTestApp(t, cfg)
			t.Cleanup(func() { _ = a.Close(context.Background()) })

			rr := httptest.NewRecorder()
			a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("healthz=%d", rr.Code)
			}
			rr = httptest.NewRecorder()
			a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.want {
				t.Fatalf("readyz=%d want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestApp_BadCatalogPath(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CatalogPath = filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error for missing catalog file")
	}
}
