package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ayusman/natya/internal/detector"
)

// ReferenceFrame is the expert pose of a song at one frame index.
type ReferenceFrame struct {
	FrameIndex int                `json:"frame"`
	Keypoints  detector.PoseFrame `json:"keypoints"`
}

// ReferenceRepository stores reference poses per song.
type ReferenceRepository struct {
	db *sql.DB
}

// References returns the reference frame repository for this store.
func (s *Store) References() *ReferenceRepository {
	return &ReferenceRepository{db: s.db}
}

// Replace swaps all reference frames of a song in a single transaction.
func (r *ReferenceRepository) Replace(songID string, frames []ReferenceFrame) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM songs WHERE id = ?`, songID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM reference_frames WHERE song_id = ?`, songID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO reference_frames (song_id, frame_index, keypoints) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frames {
		data, err := json.Marshal(f.Keypoints)
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", f.FrameIndex, err)
		}
		if _, err := stmt.Exec(songID, f.FrameIndex, string(data)); err != nil {
			return fmt.Errorf("insert frame %d: %w", f.FrameIndex, err)
		}
	}

	if _, err := tx.Exec(`UPDATE songs SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, songID); err != nil {
		return err
	}

	return tx.Commit()
}

// List retrieves the reference frames of a song ordered by frame index.
func (r *ReferenceRepository) List(songID string) ([]ReferenceFrame, error) {
	rows, err := r.db.Query(
		`SELECT frame_index, keypoints FROM reference_frames
		 WHERE song_id = ?
		 ORDER BY frame_index`,
		songID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []ReferenceFrame
	for rows.Next() {
		var f ReferenceFrame
		var data string
		if err := rows.Scan(&f.FrameIndex, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &f.Keypoints); err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", f.FrameIndex, err)
		}
		frames = append(frames, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}

// Count returns the number of reference frames stored for a song.
func (r *ReferenceRepository) Count(songID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM reference_frames WHERE song_id = ?`, songID).Scan(&n)
	return n, err
}
