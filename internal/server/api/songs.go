package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ayusman/natya/internal/store"
)

// Forgetter drops cached reference tables after they change.
type Forgetter interface {
	Forget(song string)
}

// SongHandler handles HTTP requests for songs and their reference poses.
type SongHandler struct {
	store *store.Store
	cache Forgetter
}

// NewSongHandler creates a new SongHandler. cache may be nil.
func NewSongHandler(s *store.Store, cache Forgetter) *SongHandler {
	return &SongHandler{store: s, cache: cache}
}

// ServeHTTP routes /api/songs, /api/songs/{id} and /api/songs/{id}/reference.
func (h *SongHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r, "/api/songs")

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
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodPut:
			h.update(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case 2:
		if parts[1] != "reference" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.getReference(w, r, parts[0])
		case http.MethodPut:
			h.putReference(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type songRequest struct {
	Title           string   `json:"title"`
	ExpertVideoPath string   `json:"expert_video_path"`
	FullStart       *float64 `json:"full_start"`
	FullEnd         *float64 `json:"full_end"`
	HighlightStart  *float64 `json:"highlight_start"`
	HighlightEnd    *float64 `json:"highlight_end"`
}

type songResponse struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	ExpertVideoPath string  `json:"expert_video_path"`
	FullStart       float64 `json:"full_start"`
	FullEnd         float64 `json:"full_end"`
	HighlightStart  float64 `json:"highlight_start"`
	HighlightEnd    float64 `json:"highlight_end"`
	ReferenceFrames int     `json:"reference_frames"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type listSongsResponse struct {
	Songs []songResponse `json:"songs"`
}

type referenceResponse struct {
	SongID string                 `json:"song_id"`
	Frames []store.ReferenceFrame `json:"frames"`
}

type replaceReferenceResponse struct {
	SongID string `json:"song_id"`
	Frames int    `json:"frames"`
}

func toSongResponse(s *store.Song, frames int) songResponse {
	return songResponse{
		ID:              s.ID,
		Title:           s.Title,
		ExpertVideoPath: s.ExpertVideoPath,
		FullStart:       s.FullStart,
		FullEnd:         s.FullEnd,
		HighlightStart:  s.HighlightStart,
		HighlightEnd:    s.HighlightEnd,
		ReferenceFrames: frames,
		CreatedAt:       formatTime(s.CreatedAt),
		UpdatedAt:       formatTime(s.UpdatedAt),
	}
}

// apply copies the provided fields onto s.
func (req songRequest) apply(s *store.Song) {
	if req.Title != "" {
		s.Title = req.Title
	}
	if req.ExpertVideoPath != "" {
		s.ExpertVideoPath = req.ExpertVideoPath
	}
	if req.FullStart != nil {
		s.FullStart = *req.FullStart
	}
	if req.FullEnd != nil {
		s.FullEnd = *req.FullEnd
	}
	if req.HighlightStart != nil {
		s.HighlightStart = *req.HighlightStart
	}
	if req.HighlightEnd != nil {
		s.HighlightEnd = *req.HighlightEnd
	}
}

func validateRanges(s *store.Song) error {
	if s.FullStart < 0 || s.HighlightStart < 0 {
		return errors.New("range start must not be negative")
	}
	if s.FullEnd != 0 && s.FullEnd < s.FullStart {
		return errors.New("full_end must not be before full_start")
	}
	if s.HighlightEnd != 0 && s.HighlightEnd < s.HighlightStart {
		return errors.New("highlight_end must not be before highlight_start")
	}
	return nil
}

func (h *SongHandler) forget(title string) {
	if h.cache != nil {
		h.cache.Forget(title)
	}
}

// list handles GET /api/songs.
func (h *SongHandler) list(w http.ResponseWriter, r *http.Request) {
	songs, err := h.store.Songs().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list songs")
		return
	}

	response := listSongsResponse{Songs: make([]songResponse, 0, len(songs))}
	for _, s := range songs {
		n, err := h.store.References().Count(s.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to count reference frames")
			return
		}
		response.Songs = append(response.Songs, toSongResponse(s, n))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/songs/{id}.
func (h *SongHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	song, ok := h.lookup(w, id)
	if !ok {
		return
	}
	n, err := h.store.References().Count(song.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count reference frames")
		return
	}
	writeJSON(w, http.StatusOK, toSongResponse(song, n))
}

// create handles POST /api/songs.
func (h *SongHandler) create(w http.ResponseWriter, r *http.Request) {
	var req songRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	song := &store.Song{ID: uuid.New().String()}
	req.apply(song)
	if err := validateRanges(song); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.Songs().GetByTitle(song.Title); err == nil {
		writeError(w, http.StatusConflict, "Song title already exists")
		return
	}

	if err := h.store.Songs().Create(song); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create song")
		return
	}
	// A file-backed reference may already be cached under this title.
	h.forget(song.Title)

	writeJSON(w, http.StatusCreated, toSongResponse(song, 0))
}

// update handles PUT /api/songs/{id}.
func (h *SongHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	song, ok := h.lookup(w, id)
	if !ok {
		return
	}
	oldTitle := song.Title

	var req songRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.apply(song)
	if err := validateRanges(song); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Songs().Update(song); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update song")
		return
	}
	h.forget(oldTitle)
	h.forget(song.Title)

	n, err := h.store.References().Count(song.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count reference frames")
		return
	}
	writeJSON(w, http.StatusOK, toSongResponse(song, n))
}

// delete handles DELETE /api/songs/{id}.
func (h *SongHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	song, ok := h.lookup(w, id)
	if !ok {
		return
	}
	if err := h.store.Songs().Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete song")
		return
	}
	h.forget(song.Title)

	w.WriteHeader(http.StatusNoContent)
}

// getReference handles GET /api/songs/{id}/reference.
func (h *SongHandler) getReference(w http.ResponseWriter, r *http.Request, id string) {
	song, ok := h.lookup(w, id)
	if !ok {
		return
	}
	frames, err := h.store.References().List(song.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reference frames")
		return
	}
	if frames == nil {
		frames = []store.ReferenceFrame{}
	}
	writeJSON(w, http.StatusOK, referenceResponse{SongID: song.ID, Frames: frames})
}

// putReference handles PUT /api/songs/{id}/reference. The body is a JSON
// array of {"frame", "keypoints"} records and replaces all existing frames.
func (h *SongHandler) putReference(w http.ResponseWriter, r *http.Request, id string) {
	song, ok := h.lookup(w, id)
	if !ok {
		return
	}

	var frames []store.ReferenceFrame
	if err := json.NewDecoder(r.Body).Decode(&frames); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(frames) == 0 {
		writeError(w, http.StatusBadRequest, "At least one reference frame is required")
		return
	}

	seen := make(map[int]bool, len(frames))
	for _, f := range frames {
		if f.FrameIndex < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("frame %d: index must not be negative", f.FrameIndex))
			return
		}
		if seen[f.FrameIndex] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("frame %d: duplicate index", f.FrameIndex))
			return
		}
		seen[f.FrameIndex] = true
		if err := f.Keypoints.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("frame %d: %v", f.FrameIndex, err))
			return
		}
	}

	if err := h.store.References().Replace(song.ID, frames); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save reference frames")
		return
	}
	h.forget(song.Title)

	writeJSON(w, http.StatusOK, replaceReferenceResponse{SongID: song.ID, Frames: len(frames)})
}

// lookup fetches a song and writes the error response when it fails.
func (h *SongHandler) lookup(w http.ResponseWriter, id string) (*store.Song, bool) {
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
