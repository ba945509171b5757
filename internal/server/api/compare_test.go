package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/score"
)

func TestCompareHandler(t *testing.T) {
	engine, _ := newTestEngine(t, newTestStore(t))
	handler := NewCompareHandler(engine)

	standing := detector.StandingPose()
	raised := detector.ArmsRaisedPose()

	t.Run("identical sequences", func(t *testing.T) {
		body := map[string]interface{}{
			"user":      []detector.PoseFrame{standing, raised, standing},
			"reference": []detector.PoseFrame{standing, raised, standing},
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/compare", body))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}

		var result score.SequenceResult
		decode(t, rec, &result)
		if result.Score != 100 || result.Cost != 0 {
			t.Errorf("expected score 100 and cost 0, got %+v", result)
		}
		if result.Feedback != score.Perfect {
			t.Errorf("expected feedback Perfect, got %s", result.Feedback)
		}
		if len(result.Path) != 3 {
			t.Errorf("expected diagonal path of 3 steps, got %v", result.Path)
		}
	})

	t.Run("slower user still aligns", func(t *testing.T) {
		body := map[string]interface{}{
			"user":      []detector.PoseFrame{standing, standing, raised, raised},
			"reference": []detector.PoseFrame{standing, raised},
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/compare", body))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var result score.SequenceResult
		decode(t, rec, &result)
		if result.Cost > 1e-9 {
			t.Errorf("expected zero cost for a time-stretched copy, got %v", result.Cost)
		}
	})

	t.Run("max distance override", func(t *testing.T) {
		seq := map[string]interface{}{
			"user":      []detector.PoseFrame{standing},
			"reference": []detector.PoseFrame{raised},
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/compare", seq))
		var loose score.SequenceResult
		decode(t, rec, &loose)

		seq["max_distance"] = 0.5
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/compare", seq))
		var strict score.SequenceResult
		decode(t, rec, &strict)

		if loose.Cost != strict.Cost {
			t.Errorf("cost should not depend on max_distance: %v vs %v", loose.Cost, strict.Cost)
		}
		if strict.Score > loose.Score {
			t.Errorf("smaller max_distance should not raise the score: %v > %v", strict.Score, loose.Score)
		}
	})

	t.Run("empty sequence", func(t *testing.T) {
		body := map[string]interface{}{
			"user":      []detector.PoseFrame{},
			"reference": []detector.PoseFrame{standing},
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/compare", body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("incomplete pose", func(t *testing.T) {
		broken := detector.StandingPose()
		delete(broken, detector.RightKnee)
		body := map[string]interface{}{
			"user":      []detector.PoseFrame{broken},
			"reference": []detector.PoseFrame{standing},
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/compare", body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("bad requests", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compare", strings.NewReader("[")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("invalid JSON: expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/compare", map[string]interface{}{"max_distance": -1}))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("negative max_distance: expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compare", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}
