package score

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/natya/internal/detector"
)

// Breakdown holds per-component scores in [0, 100].
type Breakdown map[Component]float64

// Result is the outcome of comparing one user pose with one reference pose.
type Result struct {
	Score     float64   `json:"score"`
	Feedback  Feedback  `json:"feedback"`
	Breakdown Breakdown `json:"breakdown,omitempty"`
	// NoPose is set when either side had no detected pose.
	NoPose bool `json:"no_pose,omitempty"`
}

// Scorer computes directional similarity scores under a fixed policy.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	policy     Policy
	components []Component
}

// NewScorer validates the policy and returns a Scorer bound to a private copy of it.
func NewScorer(p Policy) (*Scorer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.clone()

	components := make([]Component, 0, len(p.Weights))
	for c := range p.Weights {
		components = append(components, c)
	}
	sort.Slice(components, func(i, j int) bool { return components[i] < components[j] })
	return &Scorer{policy: p, components: components}, nil
}

// Policy returns a copy of the scorer's policy.
func (s *Scorer) Policy() Policy {
	return s.policy.clone()
}

// Label maps a score to its feedback tier.
func (s *Scorer) Label(score float64) Feedback {
	return s.policy.Tiers.Label(score)
}

// Map returns the breakdown keyed by component name.
func (b Breakdown) Map() map[string]float64 {
	if b == nil {
		return nil
	}
	out := make(map[string]float64, len(b))
	for c, v := range b {
		out[string(c)] = v
	}
	return out
}

// NoPose returns the sentinel result for a frame without a detected pose.
func (s *Scorer) NoPose() Result {
	return Result{Score: 0, Feedback: s.policy.Tiers.Lowest(), NoPose: true}
}

// Compare scores a user pose against a reference pose.
//
// Steps:
// 1. Body direction: angle of left shoulder → mid-hip, wrapped difference.
// 2. Positional part scores: 100 - PartDiff per limb.
// 3. Angular part scores, when the policy weights them.
// 4. Weighted mean of all weighted components, rounded to 2 decimals.
//
// Every component and the total lie in [0, 100]. A nil pose on either side
// yields the NoPose result.
func (s *Scorer) Compare(user, ref detector.NormalizedPose) Result {
	if user == nil || ref == nil {
		return s.NoPose()
	}

	breakdown := make(Breakdown, len(s.components))
	values := make([]float64, 0, len(s.components))
	weights := make([]float64, 0, len(s.components))

	for _, c := range s.components {
		v := s.component(c, user, ref)
		breakdown[c] = round2(v)
		values = append(values, v)
		weights = append(weights, s.policy.Weights[c])
	}

	total := round2(clamp(stat.Mean(values, weights)))
	return Result{
		Score:     total,
		Feedback:  s.policy.Tiers.Label(total),
		Breakdown: breakdown,
	}
}

func (s *Scorer) component(c Component, user, ref detector.NormalizedPose) float64 {
	if c == BodyDirection {
		return DirectionScore(user, ref)
	}
	if joints, ok := parts[c]; ok {
		return clamp(100 - PartDiff(user, ref, joints))
	}
	if triple, ok := angles[c]; ok {
		return AngleScore(user, ref, triple)
	}
	return 0
}

// BodyAngle returns the orientation in degrees of the vector from the left
// shoulder to the mid-hip.
func BodyAngle(p detector.NormalizedPose) float64 {
	ls, mh := p[detector.LeftShoulder], p[detector.MidHip]
	return math.Atan2(mh.Y-ls.Y, mh.X-ls.X) * 180 / math.Pi
}

// WrapDegrees maps an angle difference into (-180, 180].
func WrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// DirectionScore compares body orientation of two poses.
// The difference is taken user minus reference; only its magnitude is scored,
// so swapping the arguments gives the same score.
func DirectionScore(user, ref detector.NormalizedPose) float64 {
	return directionFromAngles(BodyAngle(user), BodyAngle(ref))
}

func directionFromAngles(userDeg, refDeg float64) float64 {
	return clamp(100 - math.Abs(WrapDegrees(userDeg-refDeg)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
