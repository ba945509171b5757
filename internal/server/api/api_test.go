package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/reference"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "natya-api-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// newTestEngine builds an engine whose references come from s.
func newTestEngine(t *testing.T, s *store.Store) (*score.Engine, *reference.Cache) {
	t.Helper()

	scorer, err := score.NewScorer(score.DefaultPolicy())
	if err != nil {
		t.Fatalf("failed to create scorer: %v", err)
	}
	cache := reference.NewCache(reference.NewStoreLoader(s))
	return score.NewEngine(scorer, cache), cache
}

// seedSong creates a song with a two-frame reference: standing, then arms raised.
func seedSong(t *testing.T, s *store.Store, id, title string) *store.Song {
	t.Helper()

	song := &store.Song{
		ID:             id,
		Title:          title,
		FullStart:      0,
		FullEnd:        30,
		HighlightStart: 10,
		HighlightEnd:   20,
	}
	if err := s.Songs().Create(song); err != nil {
		t.Fatalf("failed to create song: %v", err)
	}
	frames := []store.ReferenceFrame{
		{FrameIndex: 0, Keypoints: detector.StandingPose()},
		{FrameIndex: 1, Keypoints: detector.ArmsRaisedPose()},
	}
	if err := s.References().Replace(id, frames); err != nil {
		t.Fatalf("failed to save reference: %v", err)
	}
	return song
}

// pngFrame returns a small encoded camera frame.
func pngFrame(t *testing.T) []byte {
	t.Helper()

	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...)
}

// analyzeRequest builds a multipart POST /api/analyze request.
func analyzeRequest(t *testing.T, image []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("frame", "frame.png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		fw.Write(image)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v interface{}) *http.Request {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	return httptest.NewRequest(method, target, bytes.NewReader(data))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// recordingForgetter records the songs dropped from the reference cache.
type recordingForgetter struct {
	songs []string
}

func (f *recordingForgetter) Forget(song string) {
	f.songs = append(f.songs, song)
}
