// Package capture provides camera and video file frame sources using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when trying to read from a source that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera is a live camera source.
type Camera interface {
	Source
	Open() error
	FPS() int
	IsOpen() bool
}

// CameraConfig describes a capture device. Zero fields take the defaults.
type CameraConfig struct {
	DeviceID int
	FPS      int
	Width    int
	Height   int
	// Mirror flips frames horizontally so the dancer is scored as seen in a mirror.
	Mirror bool
}

func (c CameraConfig) withDefaults() CameraConfig {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	return c
}

// deviceCamera reads frames from a capture device.
type deviceCamera struct {
	config  CameraConfig
	capture *gocv.VideoCapture
	mu      sync.Mutex
	opened  time.Time
}

// NewCamera returns a closed camera for the configured device.
func NewCamera(cfg CameraConfig) Camera {
	return &deviceCamera{config: cfg.withDefaults()}
}

// Open starts capturing. Opening an open camera does nothing.
func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.config.DeviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.config.DeviceID, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.config.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.config.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.config.FPS))

	c.capture = capture
	c.opened = time.Now()
	return nil
}

// Close releases the device.
func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

// ReadFrame grabs the current frame. The caller closes the returned Mat.
func (c *deviceCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("camera %d: no frame", c.config.DeviceID)
	}

	if c.config.Mirror {
		Mirror(&mat)
	}
	return &mat, nil
}

// Position returns the time since the camera was opened.
func (c *deviceCamera) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return 0
	}
	return time.Since(c.opened)
}

// FPS returns the requested capture rate.
func (c *deviceCamera) FPS() int {
	return c.config.FPS
}

// IsOpen reports whether the device is capturing.
func (c *deviceCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}
