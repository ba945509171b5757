package reference

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ayusman/natya/internal/detector"
)

// Table maps frame indices to normalized reference poses.
type Table map[int]detector.NormalizedPose

// Cache holds reference tables per song. A song is loaded on first access
// and kept until Forget. Concurrent first accesses share one load; failed
// loads are not cached. A load that was running when Forget was called is
// returned to its callers but not stored.
type Cache struct {
	loader Loader

	mu    sync.RWMutex
	songs map[string]Table
	gen   map[string]uint64

	group singleflight.Group
}

// NewCache creates a cache backed by loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader: loader,
		songs:  make(map[string]Table),
		gen:    make(map[string]uint64),
	}
}

// Frame returns the normalized reference pose of a song at a frame index.
func (c *Cache) Frame(ctx context.Context, song string, index int) (detector.NormalizedPose, error) {
	table, err := c.Table(ctx, song)
	if err != nil {
		return nil, err
	}

	pose, ok := table[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s frame %d", ErrFrameNotFound, song, index)
	}
	return pose, nil
}

// Table returns the full reference table of a song, loading it if needed.
// The returned table must not be modified.
func (c *Cache) Table(ctx context.Context, song string) (Table, error) {
	c.mu.RLock()
	table, ok := c.songs[song]
	c.mu.RUnlock()
	if ok {
		return table, nil
	}

	// The shared load must not be cut short by one caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(song, func() (interface{}, error) {
		return c.load(loadCtx, song)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Table), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context, song string) (Table, error) {
	c.mu.RLock()
	table, ok := c.songs[song]
	gen := c.gen[song]
	c.mu.RUnlock()
	if ok {
		return table, nil
	}

	records, err := c.loader.Load(ctx, song)
	if err != nil {
		return nil, err
	}

	table, err = buildTable(records)
	if err != nil {
		return nil, fmt.Errorf("song %s: %w", song, err)
	}

	c.mu.Lock()
	if c.gen[song] == gen {
		c.songs[song] = table
	}
	c.mu.Unlock()

	return table, nil
}

// buildTable normalizes each record. Z is kept; callers scoring in 2D
// normalize again, which drops it.
func buildTable(records []Record) (Table, error) {
	table := make(Table, len(records))
	for _, r := range records {
		n, err := detector.Normalize(r.Keypoints, detector.Dim3D)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", r.FrameIndex, err)
		}
		table[r.FrameIndex] = n
	}
	return table, nil
}

// Forget drops a song so the next access reloads it. Loads already in
// flight for the song will not be cached.
func (c *Cache) Forget(song string) {
	c.mu.Lock()
	c.gen[song]++
	delete(c.songs, song)
	c.mu.Unlock()
	c.group.Forget(song)
}

// Len returns the number of cached songs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.songs)
}
