package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/reference"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/store"
)

// maxFrameUpload bounds the size of an uploaded frame image.
const maxFrameUpload = 10 << 20

// AnalyzeHandler scores a single uploaded camera frame against a song's
// reference pose.
type AnalyzeHandler struct {
	detector detector.Detector
	engine   *score.Engine
	store    *store.Store
}

// NewAnalyzeHandler creates a new AnalyzeHandler. s may be nil, in which case
// session_id is ignored.
func NewAnalyzeHandler(d detector.Detector, e *score.Engine, s *store.Store) *AnalyzeHandler {
	return &AnalyzeHandler{detector: d, engine: e, store: s}
}

type analyzeResponse struct {
	Score      float64            `json:"score"`
	Feedback   string             `json:"feedback"`
	FrameIndex int                `json:"frame_index"`
	Breakdown  map[string]float64 `json:"breakdown,omitempty"`
	NoPose     bool               `json:"no_pose"`
}

// ServeHTTP handles POST /api/analyze.
//
// Form fields: frame (image file), song_title, frame_index and optionally
// session_id. A frame without a visible dancer scores 0 with the lowest label.
func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFrameUpload)
	if err := r.ParseMultipartForm(maxFrameUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	song := r.FormValue("song_title")
	if song == "" {
		writeError(w, http.StatusBadRequest, "song_title is required")
		return
	}
	frameIndex, err := strconv.Atoi(r.FormValue("frame_index"))
	if err != nil || frameIndex < 0 {
		writeError(w, http.StatusBadRequest, "frame_index must be a non-negative integer")
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID != "" && !h.checkSession(w, sessionID) {
		return
	}

	file, _, err := r.FormFile("frame")
	if err != nil {
		writeError(w, http.StatusBadRequest, "frame image is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read frame image")
		return
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || img.Empty() {
		if err == nil {
			img.Close()
		}
		writeError(w, http.StatusBadRequest, "Invalid frame image")
		return
	}
	defer img.Close()

	pose, err := h.detector.Detect(&img)
	if err != nil {
		log.Printf("analyze: detect: %v", err)
		writeError(w, http.StatusInternalServerError, "Pose detection failed")
		return
	}

	result, err := h.engine.Evaluate(r.Context(), pose, song, frameIndex)
	if err != nil {
		switch {
		case errors.Is(err, reference.ErrSongNotFound):
			writeError(w, http.StatusNotFound, "Reference not found for song")
		case errors.Is(err, reference.ErrFrameNotFound):
			writeError(w, http.StatusNotFound, "Reference frame not found")
		case errors.Is(err, detector.ErrMissingJoint):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			log.Printf("analyze: evaluate %s frame %d: %v", song, frameIndex, err)
			writeError(w, http.StatusInternalServerError, "Failed to score frame")
		}
		return
	}

	if sessionID != "" {
		eval := &store.Evaluation{
			SessionID:  sessionID,
			FrameIndex: frameIndex,
			Score:      result.Score,
			Feedback:   string(result.Feedback),
			Breakdown:  result.Breakdown.Map(),
			NoPose:     result.NoPose,
		}
		if err := h.store.Sessions().AddEvaluation(eval); err != nil {
			log.Printf("analyze: save evaluation: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to save evaluation")
			return
		}
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Score:      result.Score,
		Feedback:   string(result.Feedback),
		FrameIndex: frameIndex,
		Breakdown:  result.Breakdown.Map(),
		NoPose:     result.NoPose,
	})
}

// checkSession verifies that a session exists and is still open.
func (h *AnalyzeHandler) checkSession(w http.ResponseWriter, id string) bool {
	if h.store == nil {
		return true
	}
	sess, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return false
	}
	if sess.EndedAt != nil {
		writeError(w, http.StatusConflict, "Session already finished")
		return false
	}
	return true
}
