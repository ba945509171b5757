package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Mode selects which part of a song a session practices.
type Mode string

const (
	ModeFull      Mode = "full"
	ModeHighlight Mode = "highlight"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeFull || m == ModeHighlight
}

// Session is one practice run of a song.
type Session struct {
	ID        string     `json:"id"`
	SongID    string     `json:"song_id"`
	Mode      Mode       `json:"mode"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Score     *float64   `json:"score,omitempty"`
	Feedback  string     `json:"feedback,omitempty"`
}

// Evaluation is the scored result of one sampled frame of a session.
type Evaluation struct {
	ID         int64              `json:"id"`
	SessionID  string             `json:"session_id"`
	FrameIndex int                `json:"frame_index"`
	Score      float64            `json:"score"`
	Feedback   string             `json:"feedback"`
	Breakdown  map[string]float64 `json:"breakdown,omitempty"`
	NoPose     bool               `json:"no_pose"`
	CreatedAt  time.Time          `json:"created_at"`
}

// SessionRepository stores practice sessions and their evaluations.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(s *Session) error {
	if !s.Mode.Valid() {
		return fmt.Errorf("invalid session mode %q", s.Mode)
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, song_id, mode, started_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.SongID, string(s.Mode), s.StartedAt,
	)
	return err
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	return scanSession(r.db.QueryRow(
		`SELECT id, song_id, mode, started_at, ended_at, score, feedback
		 FROM sessions WHERE id = ?`,
		id,
	))
}

// ListBySong retrieves the sessions of a song, newest first.
func (r *SessionRepository) ListBySong(songID string) ([]*Session, error) {
	rows, err := r.db.Query(
		`SELECT id, song_id, mode, started_at, ended_at, score, feedback
		 FROM sessions WHERE song_id = ?
		 ORDER BY started_at DESC`,
		songID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Finish records the end time and final score of a session.
func (r *SessionRepository) Finish(id string, score float64, feedback string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, score = ?, feedback = ? WHERE id = ?`,
		time.Now(), score, feedback, id,
	)
	if err != nil {
		return err
	}

	return requireRow(result)
}

// AddEvaluation stores the result of one sampled frame.
func (r *SessionRepository) AddEvaluation(e *Evaluation) error {
	breakdown := e.Breakdown
	if breakdown == nil {
		breakdown = map[string]float64{}
	}
	data, err := json.Marshal(breakdown)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	result, err := r.db.Exec(
		`INSERT INTO frame_evaluations (session_id, frame_index, score, feedback, breakdown, no_pose, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.FrameIndex, e.Score, e.Feedback, string(data), e.NoPose, e.CreatedAt,
	)
	if err != nil {
		return err
	}

	e.ID, err = result.LastInsertId()
	return err
}

// Evaluations retrieves the evaluations of a session in frame order.
func (r *SessionRepository) Evaluations(sessionID string) ([]Evaluation, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, frame_index, score, feedback, breakdown, no_pose, created_at
		 FROM frame_evaluations
		 WHERE session_id = ?
		 ORDER BY frame_index, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []Evaluation
	for rows.Next() {
		var e Evaluation
		var data string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FrameIndex, &e.Score, &e.Feedback, &data, &e.NoPose, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &e.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown of evaluation %d: %w", e.ID, err)
		}
		evals = append(evals, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evals, nil
}

// MeanScore returns the average score over a session's evaluations.
// Frames without a detected pose count as 0. ok is false when the session has
// no evaluations.
func (r *SessionRepository) MeanScore(sessionID string) (mean float64, ok bool, err error) {
	var avg sql.NullFloat64
	err = r.db.QueryRow(
		`SELECT AVG(score) FROM frame_evaluations WHERE session_id = ?`,
		sessionID,
	).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	return avg.Float64, avg.Valid, nil
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var mode string
	var ended sql.NullTime
	var score sql.NullFloat64

	err := row.Scan(&s.ID, &s.SongID, &mode, &s.StartedAt, &ended, &score, &s.Feedback)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.Mode = Mode(mode)
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	if score.Valid {
		v := score.Float64
		s.Score = &v
	}
	return s, nil
}
