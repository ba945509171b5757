package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/reference"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/store"
)

func newEngine(t *testing.T, s *store.Store) *score.Engine {
	t.Helper()
	scorer, err := score.NewScorer(score.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}
	var loader reference.Loader = reference.ChainLoader{}
	if s != nil {
		loader = reference.NewStoreLoader(s)
	}
	return score.NewEngine(scorer, reference.NewCache(loader))
}

func TestServer_Health(t *testing.T) {
	t.Run("without an engine", func(t *testing.T) {
		rec := httptest.NewRecorder()
		New(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		var response map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}
		if _, ok := response["uptime"]; !ok {
			t.Error("expected 'uptime' field in response")
		}
		if _, ok := response["policy"]; ok {
			t.Error("expected no 'policy' field without an engine")
		}
	})

	t.Run("reports the scoring policy and live clients", func(t *testing.T) {
		s := New(Config{Engine: newEngine(t, nil), Hub: NewLiveHub()})

		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		var response struct {
			LiveClients int `json:"live_clients"`
			Policy      struct {
				Dimensions         int     `json:"dimensions"`
				FrameMaxDistance   float64 `json:"frame_max_distance"`
				SessionMaxDistance float64 `json:"session_max_distance"`
				Tiers              []struct {
					Min   float64 `json:"min"`
					Label string  `json:"label"`
				} `json:"tiers"`
			} `json:"policy"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response.LiveClients != 0 {
			t.Errorf("expected 0 live clients, got %d", response.LiveClients)
		}
		if response.Policy.Dimensions != 2 {
			t.Errorf("expected dimensions 2, got %d", response.Policy.Dimensions)
		}
		if response.Policy.FrameMaxDistance != 50 || response.Policy.SessionMaxDistance != 5 {
			t.Errorf("expected max distances 50/5, got %v/%v",
				response.Policy.FrameMaxDistance, response.Policy.SessionMaxDistance)
		}
		if len(response.Policy.Tiers) != 5 || response.Policy.Tiers[0].Label != "Perfect" {
			t.Errorf("unexpected tiers %+v", response.Policy.Tiers)
		}
	})

	t.Run("only allows GET", func(t *testing.T) {
		s := New(Config{})
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(method, "/api/health", nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

// TestServer_Routes checks which endpoints are mounted for each set of
// collaborators.
func TestServer_Routes(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()
	engine := newEngine(t, st)

	tests := []struct {
		name    string
		config  Config
		method  string
		path    string
		mounted bool
	}{
		{"songs need a store", Config{}, http.MethodGet, "/api/songs", false},
		{"songs with a store", Config{Store: st}, http.MethodGet, "/api/songs", true},
		{"compare needs an engine", Config{Store: st}, http.MethodPost, "/api/compare", false},
		{"compare with an engine", Config{Engine: engine}, http.MethodGet, "/api/compare", true},
		{"analyze needs a detector", Config{Engine: engine}, http.MethodGet, "/api/analyze", false},
		{"analyze with a detector", Config{Engine: engine, Detector: detector.NewMockDetector()}, http.MethodGet, "/api/analyze", true},
		{"sessions need an engine", Config{Store: st}, http.MethodGet, "/api/sessions/x", false},
		{"sessions with store and engine", Config{Store: st, Engine: engine}, http.MethodGet, "/api/sessions/x", true},
		{"live needs a hub", Config{}, http.MethodGet, "/api/live", false},
		{"unknown path", Config{Store: st, Engine: engine}, http.MethodGet, "/api/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tt.config).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			// Unmounted paths fall through to the mux's default 404 page.
			mounted := rec.Code != http.StatusNotFound || rec.Body.String() != "404 page not found\n"
			if mounted != tt.mounted {
				t.Errorf("%s %s: mounted = %v (status %d), want %v", tt.method, tt.path, mounted, rec.Code, tt.mounted)
			}
		})
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>Natya</body></html>"
	css := "body { color: red; }"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "style.css"), []byte(css), 0644); err != nil {
		t.Fatalf("failed to create test CSS file: %v", err)
	}

	s := New(Config{StaticDir: dir})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/", http.StatusOK, index},
		{"/style.css", http.StatusOK, css},
		{"/nonexistent.html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

		if rec.Code != tt.wantCode {
			t.Errorf("GET %s: expected status %d, got %d", tt.path, tt.wantCode, rec.Code)
		}
		if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
			t.Errorf("GET %s: expected body %q, got %q", tt.path, tt.wantBody, rec.Body.String())
		}
	}
}

func TestServer_NoStaticDir(t *testing.T) {
	rec := httptest.NewRecorder()
	New(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_HTTPServer(t *testing.T) {
	s := New(Config{})
	srv := s.HTTPServer("127.0.0.1:0")

	if srv.Addr != "127.0.0.1:0" {
		t.Errorf("expected Addr 127.0.0.1:0, got %s", srv.Addr)
	}
	if srv.Handler != s {
		t.Error("expected the server as handler")
	}
	if srv.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("expected ReadHeaderTimeout 10s, got %v", srv.ReadHeaderTimeout)
	}
}
