// Package detector provides body pose types, keypoint normalization and the
// pose-estimation oracle interface used for dance scoring.
package detector

import (
	"errors"
	"fmt"
	"math"
)

// Joint names a body landmark.
type Joint string

// Canonical limb joints, named after the MediaPipe Pose landmarks they come from.
const (
	LeftShoulder  Joint = "left_shoulder"
	RightShoulder Joint = "right_shoulder"
	LeftElbow     Joint = "left_elbow"
	RightElbow    Joint = "right_elbow"
	LeftWrist     Joint = "left_wrist"
	RightWrist    Joint = "right_wrist"
	LeftHip       Joint = "left_hip"
	RightHip      Joint = "right_hip"
	LeftKnee      Joint = "left_knee"
	RightKnee     Joint = "right_knee"
	LeftAnkle     Joint = "left_ankle"
	RightAnkle    Joint = "right_ankle"

	// MidHip is derived from the two hips and is never read from the oracle.
	MidHip Joint = "mid_hip"
)

// CanonicalJoints lists the limb joints in the stable order used for flattening.
var CanonicalJoints = [...]Joint{
	LeftShoulder, RightShoulder,
	LeftElbow, RightElbow,
	LeftWrist, RightWrist,
	LeftHip, RightHip,
	LeftKnee, RightKnee,
	LeftAnkle, RightAnkle,
}

// NumJoints is the number of canonical limb joints.
const NumJoints = len(CanonicalJoints)

// ErrMissingJoint is returned when a pose lacks one of the canonical joints.
var ErrMissingJoint = errors.New("missing joint")

// Dimensions selects whether normalization uses the z axis.
type Dimensions int

const (
	// Dim2D normalizes on x and y only and drops z from the output.
	Dim2D Dimensions = 2
	// Dim3D includes z in both the offsets and the scale.
	Dim3D Dimensions = 3
)

// Point3D represents a 3D point in space with x, y, z coordinates.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PoseFrame maps joint names to coordinates in image space.
// A nil PoseFrame means the oracle found no pose in the frame.
type PoseFrame map[Joint]Point3D

// NormalizedPose is a PoseFrame re-centered on the mid-hip and scaled to unit
// L2 norm. It always holds every canonical joint plus MidHip at the origin.
type NormalizedPose map[Joint]Point3D

// Validate reports the first canonical joint absent from the frame.
func (p PoseFrame) Validate() error {
	for _, j := range CanonicalJoints {
		if _, ok := p[j]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingJoint, j)
		}
	}
	return nil
}

// MidHip returns the per-axis mean of the two hips.
// The frame must contain both hips.
func (p PoseFrame) MidHip() Point3D {
	l, r := p[LeftHip], p[RightHip]
	return Point3D{
		X: (l.X + r.X) / 2,
		Y: (l.Y + r.Y) / 2,
		Z: (l.Z + r.Z) / 2,
	}
}

// Normalize re-centers the pose on its mid-hip and divides every joint by the
// L2 norm of all joint offsets. A zero norm leaves the offsets unscaled.
// The result is invariant to translation and uniform scale of the input,
// and normalizing an already normalized pose returns it unchanged.
func Normalize(p PoseFrame, dims Dimensions) (NormalizedPose, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	base := p.MidHip()
	use3D := dims == Dim3D

	offsets := make(map[Joint]Point3D, NumJoints)
	var sumSq float64
	for _, j := range CanonicalJoints {
		v := p[j]
		o := Point3D{X: v.X - base.X, Y: v.Y - base.Y}
		if use3D {
			o.Z = v.Z - base.Z
		}
		sumSq += o.X*o.X + o.Y*o.Y + o.Z*o.Z
		offsets[j] = o
	}

	scale := math.Sqrt(sumSq)
	if scale == 0 {
		scale = 1.0
	}

	normalized := make(NormalizedPose, NumJoints+1)
	for j, o := range offsets {
		normalized[j] = Point3D{X: o.X / scale, Y: o.Y / scale, Z: o.Z / scale}
	}
	normalized[MidHip] = Point3D{}

	return normalized, nil
}

// Frame converts the normalized pose back to a PoseFrame, dropping MidHip.
func (n NormalizedPose) Frame() PoseFrame {
	if n == nil {
		return nil
	}
	p := make(PoseFrame, NumJoints)
	for _, j := range CanonicalJoints {
		p[j] = n[j]
	}
	return p
}

// mediaPipeIndex maps canonical joints to MediaPipe Pose landmark indices.
var mediaPipeIndex = map[Joint]int{
	LeftShoulder:  11,
	RightShoulder: 12,
	LeftElbow:     13,
	RightElbow:    14,
	LeftWrist:     15,
	RightWrist:    16,
	LeftHip:       23,
	RightHip:      24,
	LeftKnee:      25,
	RightKnee:     26,
	LeftAnkle:     27,
	RightAnkle:    28,
}

// NumPoseLandmarks is the number of landmarks in a full MediaPipe Pose result.
const NumPoseLandmarks = 33

// FromLandmarks extracts the canonical joints from a full MediaPipe Pose
// landmark list. An empty list means no pose was found and yields nil.
func FromLandmarks(landmarks []Point3D) (PoseFrame, error) {
	if len(landmarks) == 0 {
		return nil, nil
	}
	if len(landmarks) < NumPoseLandmarks {
		return nil, fmt.Errorf("%w: got %d landmarks, want %d", ErrMissingJoint, len(landmarks), NumPoseLandmarks)
	}

	p := make(PoseFrame, NumJoints)
	for j, idx := range mediaPipeIndex {
		p[j] = landmarks[idx]
	}
	return p, nil
}
