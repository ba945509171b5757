// Package score compares a user's pose with a reference pose and turns the
// deviation into an accuracy score and a feedback label.
package score

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ayusman/natya/internal/detector"
)

// Component names one entry of a score breakdown.
type Component string

const (
	BodyDirection Component = "body_direction"
	LeftArm       Component = "left_arm"
	RightArm      Component = "right_arm"
	LeftLeg       Component = "left_leg"
	RightLeg      Component = "right_leg"

	LeftArmAngle  Component = "left_arm_angle"
	RightArmAngle Component = "right_arm_angle"
	LeftLegAngle  Component = "left_leg_angle"
	RightLegAngle Component = "right_leg_angle"
)

// parts maps positional components to the joints they average over.
var parts = map[Component][]detector.Joint{
	LeftArm:  {detector.LeftShoulder, detector.LeftElbow, detector.LeftWrist},
	RightArm: {detector.RightShoulder, detector.RightElbow, detector.RightWrist},
	LeftLeg:  {detector.LeftHip, detector.LeftKnee, detector.LeftAnkle},
	RightLeg: {detector.RightHip, detector.RightKnee, detector.RightAnkle},
}

// angles maps angular components to the joint triple whose middle joint is the vertex.
var angles = map[Component][3]detector.Joint{
	LeftArmAngle:  {detector.LeftShoulder, detector.LeftElbow, detector.LeftWrist},
	RightArmAngle: {detector.RightShoulder, detector.RightElbow, detector.RightWrist},
	LeftLegAngle:  {detector.LeftHip, detector.LeftKnee, detector.LeftAnkle},
	RightLegAngle: {detector.RightHip, detector.RightKnee, detector.RightAnkle},
}

// Known reports whether c is a component the scorer can compute.
func Known(c Component) bool {
	if c == BodyDirection {
		return true
	}
	if _, ok := parts[c]; ok {
		return true
	}
	_, ok := angles[c]
	return ok
}

// Feedback is a qualitative label for a score.
type Feedback string

const (
	Perfect Feedback = "Perfect"
	Good    Feedback = "Good"
	Normal  Feedback = "Normal"
	Bad     Feedback = "Bad"
	Worst   Feedback = "Worst"
)

// Weights maps breakdown components to non-negative weights.
// Only weighted components are computed.
type Weights map[Component]float64

// Tier assigns Label to scores at or above Min.
type Tier struct {
	Min   float64  `json:"min"`
	Label Feedback `json:"label"`
}

// Tiers is ordered from best to worst. The last tier is the floor and catches
// every score below the previous thresholds.
type Tiers []Tier

// Label returns the label of the first tier whose threshold the score reaches.
func (t Tiers) Label(score float64) Feedback {
	for _, tier := range t {
		if score >= tier.Min {
			return tier.Label
		}
	}
	return t.Lowest()
}

// Lowest returns the worst label.
func (t Tiers) Lowest() Feedback {
	if len(t) == 0 {
		return Worst
	}
	return t[len(t)-1].Label
}

// Policy is the complete scoring configuration. It is read-only once a
// Scorer has been built from it.
type Policy struct {
	Weights    Weights             `json:"weights"`
	Tiers      Tiers               `json:"tiers"`
	Dimensions detector.Dimensions `json:"dimensions"`

	// FrameMaxDistance calibrates DTW scores for single-frame comparisons.
	FrameMaxDistance float64 `json:"frame_max_distance"`
	// SessionMaxDistance calibrates DTW scores for live session windows.
	SessionMaxDistance float64 `json:"session_max_distance"`
	// Window is the number of frame pairs kept for live session alignment.
	Window int `json:"window"`
}

// ErrInvalidPolicy is returned by Validate.
var ErrInvalidPolicy = errors.New("invalid scoring policy")

// DefaultTiers returns the five-tier feedback table.
func DefaultTiers() Tiers {
	return Tiers{
		{Min: 90, Label: Perfect},
		{Min: 80, Label: Good},
		{Min: 75, Label: Normal},
		{Min: 60, Label: Bad},
		{Min: 0, Label: Worst},
	}
}

// DefaultWeights weights body direction highest and arms above legs.
func DefaultWeights() Weights {
	return Weights{
		BodyDirection: 5.0,
		LeftArm:       3.0,
		RightArm:      3.0,
		LeftLeg:       1.0,
		RightLeg:      1.0,
	}
}

// DefaultPolicy returns the positional policy on 2D keypoints.
func DefaultPolicy() Policy {
	return Policy{
		Weights:            DefaultWeights(),
		Tiers:              DefaultTiers(),
		Dimensions:         detector.Dim2D,
		FrameMaxDistance:   50.0,
		SessionMaxDistance: 5.0,
		Window:             8,
	}
}

// AngularPolicy extends DefaultPolicy with joint-angle components.
func AngularPolicy() Policy {
	p := DefaultPolicy()
	p.Weights[LeftArmAngle] = 2.0
	p.Weights[RightArmAngle] = 2.0
	p.Weights[LeftLegAngle] = 1.0
	p.Weights[RightLegAngle] = 1.0
	return p
}

// Validate checks the policy for unusable values.
func (p Policy) Validate() error {
	if len(p.Weights) == 0 {
		return fmt.Errorf("%w: no weights", ErrInvalidPolicy)
	}
	var total float64
	for c, w := range p.Weights {
		if !Known(c) {
			return fmt.Errorf("%w: unknown component %q", ErrInvalidPolicy, c)
		}
		if w < 0 {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidPolicy, c)
		}
		total += w
	}
	if total == 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidPolicy)
	}

	if n := len(p.Tiers); n < 3 || n > 5 {
		return fmt.Errorf("%w: need 3 to 5 feedback tiers, got %d", ErrInvalidPolicy, n)
	}
	if !sort.SliceIsSorted(p.Tiers, func(i, j int) bool { return p.Tiers[i].Min > p.Tiers[j].Min }) {
		return fmt.Errorf("%w: tiers must be ordered by descending threshold", ErrInvalidPolicy)
	}
	for i := 1; i < len(p.Tiers); i++ {
		if p.Tiers[i].Min == p.Tiers[i-1].Min {
			return fmt.Errorf("%w: duplicate tier threshold %.2f", ErrInvalidPolicy, p.Tiers[i].Min)
		}
	}

	if p.Dimensions != detector.Dim2D && p.Dimensions != detector.Dim3D {
		return fmt.Errorf("%w: dimensions must be 2 or 3", ErrInvalidPolicy)
	}
	if p.FrameMaxDistance <= 0 || p.SessionMaxDistance <= 0 {
		return fmt.Errorf("%w: max distances must be positive", ErrInvalidPolicy)
	}
	if p.Window < 1 {
		return fmt.Errorf("%w: window must be at least 1", ErrInvalidPolicy)
	}
	return nil
}

// clone copies the maps so the policy cannot be changed through the caller's references.
func (p Policy) clone() Policy {
	w := make(Weights, len(p.Weights))
	for c, v := range p.Weights {
		w[c] = v
	}
	t := make(Tiers, len(p.Tiers))
	copy(t, p.Tiers)
	p.Weights = w
	p.Tiers = t
	return p
}
