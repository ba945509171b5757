package store

import (
	"database/sql"
	"errors"
	"time"
)

// Song is a piece of choreography with an expert video and reference poses.
// Start and end offsets are in seconds into the expert video.
type Song struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ExpertVideoPath string    `json:"expert_video_path"`
	FullStart       float64   `json:"full_start"`
	FullEnd         float64   `json:"full_end"`
	HighlightStart  float64   `json:"highlight_start"`
	HighlightEnd    float64   `json:"highlight_end"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Range returns the start and end offsets for a session mode.
func (s *Song) Range(mode Mode) (start, end float64) {
	if mode == ModeHighlight {
		return s.HighlightStart, s.HighlightEnd
	}
	return s.FullStart, s.FullEnd
}

// SongRepository provides CRUD operations for songs.
type SongRepository struct {
	db *sql.DB
}

// Songs returns the song repository for this store.
func (s *Store) Songs() *SongRepository {
	return &SongRepository{db: s.db}
}

const songColumns = `id, title, expert_video_path, full_start, full_end,
	highlight_start, highlight_end, created_at, updated_at`

// Create inserts a new song.
func (r *SongRepository) Create(s *Song) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO songs (`+songColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Title, s.ExpertVideoPath, s.FullStart, s.FullEnd,
		s.HighlightStart, s.HighlightEnd, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// GetByID retrieves a song by its ID.
func (r *SongRepository) GetByID(id string) (*Song, error) {
	return scanSong(r.db.QueryRow(`SELECT `+songColumns+` FROM songs WHERE id = ?`, id))
}

// GetByTitle retrieves a song by its title.
func (r *SongRepository) GetByTitle(title string) (*Song, error) {
	return scanSong(r.db.QueryRow(`SELECT `+songColumns+` FROM songs WHERE title = ?`, title))
}

// List retrieves all songs ordered by title.
func (r *SongRepository) List() ([]*Song, error) {
	rows, err := r.db.Query(`SELECT ` + songColumns + ` FROM songs ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var songs []*Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return songs, nil
}

// Update updates an existing song.
func (r *SongRepository) Update(s *Song) error {
	s.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE songs SET title = ?, expert_video_path = ?, full_start = ?, full_end = ?,
		 highlight_start = ?, highlight_end = ?, updated_at = ?
		 WHERE id = ?`,
		s.Title, s.ExpertVideoPath, s.FullStart, s.FullEnd,
		s.HighlightStart, s.HighlightEnd, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}

	return requireRow(result)
}

// Delete removes a song and, by cascade, its reference frames and sessions.
func (r *SongRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM songs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(row rowScanner) (*Song, error) {
	s := &Song{}
	err := row.Scan(&s.ID, &s.Title, &s.ExpertVideoPath, &s.FullStart, &s.FullEnd,
		&s.HighlightStart, &s.HighlightEnd, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
