package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It returns queued poses in order and then repeats the configured pose.
type MockDetector struct {
	mu    sync.Mutex
	pose  PoseFrame
	queue []PoseFrame
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetPose sets the pose that will be returned by Detect.
// A nil pose simulates "no pose found".
func (m *MockDetector) SetPose(p PoseFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pose = p
}

// Queue appends poses to be returned by successive Detect calls before
// falling back to the configured pose.
func (m *MockDetector) Queue(poses ...PoseFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, poses...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Detect invocations.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next queued pose, the configured pose, or the configured error.
func (m *MockDetector) Detect(frame *gocv.Mat) (PoseFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		p := m.queue[0]
		m.queue = m.queue[1:]
		return p, nil
	}
	return m.pose, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// StandingPose returns a preset PoseFrame of a person standing upright with
// arms hanging at the sides, in normalized image coordinates (y grows downward).
func StandingPose() PoseFrame {
	return PoseFrame{
		LeftShoulder:  {X: 0.58, Y: 0.30},
		RightShoulder: {X: 0.42, Y: 0.30},
		LeftElbow:     {X: 0.60, Y: 0.42},
		RightElbow:    {X: 0.40, Y: 0.42},
		LeftWrist:     {X: 0.61, Y: 0.53},
		RightWrist:    {X: 0.39, Y: 0.53},
		LeftHip:       {X: 0.55, Y: 0.55},
		RightHip:      {X: 0.45, Y: 0.55},
		LeftKnee:      {X: 0.56, Y: 0.72},
		RightKnee:     {X: 0.44, Y: 0.72},
		LeftAnkle:     {X: 0.56, Y: 0.90},
		RightAnkle:    {X: 0.44, Y: 0.90},
	}
}

// ArmsRaisedPose returns a preset PoseFrame with both arms stretched overhead
// and the legs apart.
func ArmsRaisedPose() PoseFrame {
	return PoseFrame{
		LeftShoulder:  {X: 0.58, Y: 0.30},
		RightShoulder: {X: 0.42, Y: 0.30},
		LeftElbow:     {X: 0.62, Y: 0.18},
		RightElbow:    {X: 0.38, Y: 0.18},
		LeftWrist:     {X: 0.64, Y: 0.06},
		RightWrist:    {X: 0.36, Y: 0.06},
		LeftHip:       {X: 0.55, Y: 0.55},
		RightHip:      {X: 0.45, Y: 0.55},
		LeftKnee:      {X: 0.62, Y: 0.72},
		RightKnee:     {X: 0.38, Y: 0.72},
		LeftAnkle:     {X: 0.68, Y: 0.90},
		RightAnkle:    {X: 0.32, Y: 0.90},
	}
}

// Transform returns a copy of p scaled by k and shifted by (dx, dy, dz).
func Transform(p PoseFrame, k, dx, dy, dz float64) PoseFrame {
	if p == nil {
		return nil
	}
	out := make(PoseFrame, len(p))
	for j, v := range p {
		out[j] = Point3D{X: v.X*k + dx, Y: v.Y*k + dy, Z: v.Z*k + dz}
	}
	return out
}
