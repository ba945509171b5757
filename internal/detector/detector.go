package detector

import "gocv.io/x/gocv"

// Detector defines the interface for pose-estimation oracles.
type Detector interface {
	// Detect analyzes a video frame and returns the canonical joints of the
	// most prominent person. It returns a nil PoseFrame and a nil error when
	// no pose is found; errors are reserved for oracle failures.
	Detect(frame *gocv.Mat) (PoseFrame, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for pose detection.
type Config struct {
	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// StaticImage treats every frame independently instead of tracking.
	StaticImage bool
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		StaticImage:     true,
	}
}
