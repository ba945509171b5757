package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrEndOfStream is returned by ReadFrame when a video file has no more frames.
var ErrEndOfStream = errors.New("end of stream")

// Source is a sequence of frames with a playback position.
type Source interface {
	ReadFrame() (*gocv.Mat, error)
	Position() time.Duration
	Close() error
}

// Seeker is a Source that can jump to a playback offset.
type Seeker interface {
	Source
	Seek(offset time.Duration)
}

// VideoFile reads frames from a video file using GoCV.
type VideoFile struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
}

// NewVideoFile creates a reader for the video at path. Call Open before reading.
func NewVideoFile(path string) *VideoFile {
	return &VideoFile{path: path}
}

// Open opens the video file.
func (v *VideoFile) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return nil
	}

	capture, err := gocv.VideoCaptureFile(v.path)
	if err != nil {
		return fmt.Errorf("open video %s: %w", v.path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open video %s: not readable", v.path)
	}

	v.capture = capture
	v.running = true
	return nil
}

// Close releases the video file.
func (v *VideoFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		v.running = false
		return nil
	}

	err := v.capture.Close()
	v.capture = nil
	v.running = false
	return err
}

// ReadFrame reads the next frame. It returns ErrEndOfStream after the last frame.
// The caller is responsible for closing the returned Mat.
func (v *VideoFile) ReadFrame() (*gocv.Mat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrEndOfStream
	}

	return &mat, nil
}

// Position returns the playback position of the last frame read.
func (v *VideoFile) Position() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return 0
	}
	return time.Duration(v.capture.Get(gocv.VideoCapturePosMsec) * float64(time.Millisecond))
}

// Seek moves playback to the given offset.
func (v *VideoFile) Seek(offset time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture != nil {
		v.capture.Set(gocv.VideoCapturePosMsec, float64(offset/time.Millisecond))
	}
}

// FPS returns the frame rate reported by the file, or 0 when closed.
func (v *VideoFile) FPS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return 0
	}
	return v.capture.Get(gocv.VideoCaptureFPS)
}

// IsOpen returns true if the file is open.
func (v *VideoFile) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// Mirror flips a frame horizontally in place, so a camera image matches the
// orientation of a dancer facing the viewer.
func Mirror(frame *gocv.Mat) {
	if frame == nil || frame.Empty() {
		return
	}
	gocv.Flip(*frame, frame, 1)
}
