package capture

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing.
// Position advances by one frame interval per frame read.
type MockCamera struct {
	frames   []*gocv.Mat
	index    int
	read     int
	loop     bool
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

// NewMockCamera creates a mock camera playing frames at 15 frames per second.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames:   frames,
		loop:     loop,
		interval: time.Second / 15,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	c.read = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrEndOfStream
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++
	c.read++

	return &frame, nil
}

// Position returns the playback time of the last frame read.
func (c *MockCamera) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.read == 0 {
		return 0
	}
	return time.Duration(c.read-1) * c.interval
}

// Seek moves playback so the next frame read is the one at offset.
func (c *MockCamera) Seek(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := int(offset / c.interval)
	if idx < 0 {
		idx = 0
	}
	c.index = idx
	c.read = idx
}

// SetFPS changes the playback rate used for Position.
func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = time.Second / time.Duration(fps)
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(time.Second / c.interval)
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
	c.read = 0
}
