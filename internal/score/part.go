package score

import (
	"math"

	"github.com/ayusman/natya/internal/detector"
)

// PartDiff returns the mean L1 deviation of the given joints between two
// normalized poses, scaled by 100. Identical joints give 0; the value is not
// bounded above.
func PartDiff(user, ref detector.NormalizedPose, joints []detector.Joint) float64 {
	if len(joints) == 0 {
		return 0
	}

	var total float64
	for _, j := range joints {
		u, r := user[j], ref[j]
		total += math.Abs(u.X-r.X) + math.Abs(u.Y-r.Y) + math.Abs(u.Z-r.Z)
	}
	return total / float64(len(joints)) * 100
}

// JointAngle returns the angle in degrees at vertex b between b→a and b→c.
// ok is false when either vector has zero length.
func JointAngle(a, b, c detector.Point3D) (deg float64, ok bool) {
	ba := detector.Point3D{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
	bc := detector.Point3D{X: c.X - b.X, Y: c.Y - b.Y, Z: c.Z - b.Z}

	nba := math.Sqrt(ba.X*ba.X + ba.Y*ba.Y + ba.Z*ba.Z)
	nbc := math.Sqrt(bc.X*bc.X + bc.Y*bc.Y + bc.Z*bc.Z)
	if nba == 0 || nbc == 0 {
		return 0, false
	}

	cos := (ba.X*bc.X + ba.Y*bc.Y + ba.Z*bc.Z) / (nba * nbc)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, true
}

// AngleDiff returns the absolute difference between the vertex angles of the
// triple in both poses. ok is false if either angle is degenerate.
func AngleDiff(user, ref detector.NormalizedPose, triple [3]detector.Joint) (float64, bool) {
	ua, uok := JointAngle(user[triple[0]], user[triple[1]], user[triple[2]])
	ra, rok := JointAngle(ref[triple[0]], ref[triple[1]], ref[triple[2]])
	if !uok || !rok {
		return 0, false
	}
	return math.Abs(ua - ra), true
}

// AngleScore converts the angle difference of a joint triple into a score.
// A triple whose angle is undefined in either pose (coincident joints) scores
// 0, including when a pose is compared with itself. Such a component cannot
// be told apart from a full mismatch and pulls the weighted total down.
func AngleScore(user, ref detector.NormalizedPose, triple [3]detector.Joint) float64 {
	d, ok := AngleDiff(user, ref, triple)
	if !ok {
		return 0
	}
	return clamp(100 - d)
}

// clamp bounds a component score to [0, 100].
func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
