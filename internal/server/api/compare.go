package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/score"
)

// CompareHandler aligns two uploaded pose sequences with DTW.
type CompareHandler struct {
	engine *score.Engine
}

// NewCompareHandler creates a new CompareHandler.
func NewCompareHandler(e *score.Engine) *CompareHandler {
	return &CompareHandler{engine: e}
}

type compareRequest struct {
	User      []detector.PoseFrame `json:"user"`
	Reference []detector.PoseFrame `json:"reference"`
	// MaxDistance overrides the policy's frame_max_distance when positive.
	MaxDistance float64 `json:"max_distance,omitempty"`
}

// ServeHTTP handles POST /api/compare.
func (h *CompareHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.MaxDistance < 0 {
		writeError(w, http.StatusBadRequest, "max_distance must not be negative")
		return
	}

	maxDistance := req.MaxDistance
	if maxDistance == 0 {
		maxDistance = h.engine.Scorer().Policy().FrameMaxDistance
	}

	result, err := h.engine.CompareSequences(req.User, req.Reference, maxDistance)
	if err != nil {
		switch {
		case errors.Is(err, score.ErrEmptySequence):
			writeError(w, http.StatusBadRequest, "Both sequences must contain at least one pose")
		case errors.Is(err, detector.ErrMissingJoint):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Failed to compare sequences")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}
