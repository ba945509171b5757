package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"

	"github.com/google/uuid"

	"github.com/ayusman/natya/internal/report"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/store"
)

// LiveController starts and stops camera-driven live sessions.
type LiveController interface {
	StartLive(song *store.Song, sess *store.Session) error
	StopLive(sessionID string)
}

// SessionHandler handles practice sessions and their evaluations.
type SessionHandler struct {
	store  *store.Store
	scorer *score.Scorer
	live   LiveController
}

// NewSessionHandler creates a new SessionHandler. live may be nil, in which
// case live sessions are rejected.
func NewSessionHandler(s *store.Store, scorer *score.Scorer, live LiveController) *SessionHandler {
	return &SessionHandler{store: s, scorer: scorer, live: live}
}

// ServeHTTP routes /api/sessions and /api/sessions/{id}[/finish|/evaluations|/chart.png].
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r, "/api/sessions")

	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case 1:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.get(w, r, parts[0])
	case 2:
		id := parts[0]
		switch {
		case parts[1] == "finish" && r.Method == http.MethodPost:
			h.finish(w, r, id)
		case parts[1] == "evaluations" && r.Method == http.MethodGet:
			h.evaluations(w, r, id)
		case parts[1] == "chart.png" && r.Method == http.MethodGet:
			h.chart(w, r, id)
		case parts[1] == "finish" || parts[1] == "evaluations" || parts[1] == "chart.png":
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		default:
			writeError(w, http.StatusNotFound, "Not found")
		}
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type createSessionRequest struct {
	SongID string `json:"song_id"`
	Mode   string `json:"mode"`
	Live   bool   `json:"live"`
}

type sessionResponse struct {
	ID        string   `json:"id"`
	SongID    string   `json:"song_id"`
	Mode      string   `json:"mode"`
	StartedAt string   `json:"started_at"`
	EndedAt   string   `json:"ended_at,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	Feedback  string   `json:"feedback,omitempty"`
	// RangeStart is the offset in seconds into the expert video where the
	// session's frame indices begin.
	RangeStart float64 `json:"range_start"`
	RangeEnd   float64 `json:"range_end"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type evaluationsResponse struct {
	SessionID   string             `json:"session_id"`
	Evaluations []store.Evaluation `json:"evaluations"`
	Summary     *report.Summary    `json:"summary,omitempty"`
}

func toSessionResponse(s *store.Session, song *store.Song) sessionResponse {
	resp := sessionResponse{
		ID:        s.ID,
		SongID:    s.SongID,
		Mode:      string(s.Mode),
		StartedAt: formatTime(s.StartedAt),
		Score:     s.Score,
		Feedback:  s.Feedback,
	}
	if s.EndedAt != nil {
		resp.EndedAt = formatTime(*s.EndedAt)
	}
	if song != nil {
		resp.RangeStart, resp.RangeEnd = song.Range(s.Mode)
	}
	return resp
}

// list handles GET /api/sessions?song_id=...
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	songID := r.URL.Query().Get("song_id")
	if songID == "" {
		writeError(w, http.StatusBadRequest, "song_id query parameter is required")
		return
	}
	song, ok := h.lookupSong(w, songID)
	if !ok {
		return
	}

	sessions, err := h.store.Sessions().ListBySong(songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s, song))
	}
	writeJSON(w, http.StatusOK, response)
}

// create handles POST /api/sessions.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.SongID == "" {
		writeError(w, http.StatusBadRequest, "song_id is required")
		return
	}

	mode := store.Mode(req.Mode)
	if mode == "" {
		mode = store.ModeFull
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid mode")
		return
	}
	if req.Live && h.live == nil {
		writeError(w, http.StatusServiceUnavailable, "Live sessions are not available")
		return
	}

	song, ok := h.lookupSong(w, req.SongID)
	if !ok {
		return
	}

	sess := &store.Session{ID: uuid.New().String(), SongID: song.ID, Mode: mode}
	if err := h.store.Sessions().Create(sess); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	if req.Live {
		if err := h.live.StartLive(song, sess); err != nil {
			log.Printf("sessions: start live %s: %v", sess.ID, err)
			writeError(w, http.StatusInternalServerError, "Failed to start live session")
			return
		}
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(sess, song))
}

// get handles GET /api/sessions/{id}.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := h.lookup(w, id)
	if !ok {
		return
	}
	song, err := h.store.Songs().GetByID(sess.SongID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to get song")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, song))
}

// finish handles POST /api/sessions/{id}/finish. The final score is the mean
// of the session's frame scores; a session without evaluations scores 0.
func (h *SessionHandler) finish(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := h.lookup(w, id)
	if !ok {
		return
	}
	if sess.EndedAt != nil {
		writeError(w, http.StatusConflict, "Session already finished")
		return
	}

	if h.live != nil {
		h.live.StopLive(id)
	}

	mean, _, err := h.store.Sessions().MeanScore(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute session score")
		return
	}
	mean = roundScore(mean)
	feedback := string(h.scorer.Label(mean))

	if err := h.store.Sessions().Finish(id, mean, feedback); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to finish session")
		return
	}

	sess, ok = h.lookup(w, id)
	if !ok {
		return
	}
	song, _ := h.store.Songs().GetByID(sess.SongID)
	writeJSON(w, http.StatusOK, toSessionResponse(sess, song))
}

// evaluations handles GET /api/sessions/{id}/evaluations.
func (h *SessionHandler) evaluations(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.lookup(w, id); !ok {
		return
	}

	evals, err := h.store.Sessions().Evaluations(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list evaluations")
		return
	}

	response := evaluationsResponse{SessionID: id, Evaluations: evals}
	if response.Evaluations == nil {
		response.Evaluations = []store.Evaluation{}
	}
	if summary, err := report.Summarize(evals); err == nil {
		response.Summary = &summary
	}
	writeJSON(w, http.StatusOK, response)
}

// chart handles GET /api/sessions/{id}/chart.png.
func (h *SessionHandler) chart(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := h.lookup(w, id)
	if !ok {
		return
	}

	evals, err := h.store.Sessions().Evaluations(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list evaluations")
		return
	}

	title := "Session " + sess.ID
	if song, err := h.store.Songs().GetByID(sess.SongID); err == nil {
		title = song.Title + " (" + string(sess.Mode) + ")"
	}

	var buf bytes.Buffer
	if err := report.WriteChart(&buf, title, evals); err != nil {
		if errors.Is(err, report.ErrNoEvaluations) {
			writeError(w, http.StatusNotFound, "Session has no evaluations")
			return
		}
		log.Printf("sessions: chart %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *SessionHandler) lookup(w http.ResponseWriter, id string) (*store.Session, bool) {
	sess, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) lookupSong(w http.ResponseWriter, id string) (*store.Song, bool) {
	song, err := h.store.Songs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Song not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get song")
		return nil, false
	}
	return song, true
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
