// Package reference provides expert reference poses per song: loaders for
// JSON files and the database, a cache with single-flight loading, and a
// builder that samples expert videos into reference records.
package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ayusman/natya/internal/store"
)

var (
	// ErrSongNotFound is returned when no reference exists for a song.
	ErrSongNotFound = errors.New("reference song not found")
	// ErrFrameNotFound is returned when a song has no reference at a frame index.
	ErrFrameNotFound = errors.New("reference frame not found")
)

// Record is one reference pose at a frame index. Its JSON form is
// {"frame": n, "keypoints": {"left_shoulder": {"x":..,"y":..,"z":..}, ...}}.
type Record = store.ReferenceFrame

// Loader reads all reference records of a song.
type Loader interface {
	Load(ctx context.Context, song string) ([]Record, error)
}

// FileSuffix is appended to the song title to form the reference file name.
const FileSuffix = "_ref_pose.json"

// FileLoader reads reference records from <Dir>/<song>_ref_pose.json.
type FileLoader struct {
	Dir string
}

// NewFileLoader creates a loader reading from dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir}
}

// Path returns the file path holding the references of a song.
func (l *FileLoader) Path(song string) string {
	return filepath.Join(l.Dir, song+FileSuffix)
}

// Load reads and decodes the reference file of a song.
func (l *FileLoader) Load(ctx context.Context, song string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if song == "" || strings.ContainsAny(song, `/\`) || strings.Contains(song, "..") {
		return nil, fmt.Errorf("%w: invalid song title %q", ErrSongNotFound, song)
	}

	data, err := os.ReadFile(l.Path(song))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSongNotFound, song)
		}
		return nil, fmt.Errorf("read reference file: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse reference file %s: %w", l.Path(song), err)
	}
	return records, nil
}

// Save writes records to the reference file of a song.
func (l *FileLoader) Save(song string, records []Record) error {
	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.Path(song), data, 0644)
}

// StoreLoader reads reference records from the database, keyed by song title.
type StoreLoader struct {
	store *store.Store
}

// NewStoreLoader creates a loader backed by s.
func NewStoreLoader(s *store.Store) *StoreLoader {
	return &StoreLoader{store: s}
}

// Load reads the reference frames of the song with the given title.
func (l *StoreLoader) Load(ctx context.Context, song string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := l.store.Songs().GetByTitle(song)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSongNotFound, song)
		}
		return nil, err
	}

	records, err := l.store.References().List(s.ID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no reference frames", ErrSongNotFound, song)
	}
	return records, nil
}

// ChainLoader tries each loader in order and returns the first song found.
type ChainLoader []Loader

// Load returns the result of the first loader that knows the song.
func (c ChainLoader) Load(ctx context.Context, song string) ([]Record, error) {
	for _, l := range c {
		records, err := l.Load(ctx, song)
		if errors.Is(err, ErrSongNotFound) {
			continue
		}
		return records, err
	}
	return nil, fmt.Errorf("%w: %s", ErrSongNotFound, song)
}
