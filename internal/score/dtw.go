package score

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/natya/internal/detector"
)

var (
	// ErrEmptySequence is returned when either DTW input has no frames.
	ErrEmptySequence = errors.New("empty sequence")
	// ErrVectorLength is returned when frame vectors differ in length.
	ErrVectorLength = errors.New("frame vectors differ in length")
)

// Step is one matched pair of frame indices on a warping path.
type Step struct {
	I int `json:"i"`
	J int `json:"j"`
}

// Alignment is the result of DTW alignment.
type Alignment struct {
	Cost float64 `json:"cost"`
	Path []Step  `json:"path"`
}

// Flatten turns a normalized pose into a vector of x, y, z per joint in
// canonical order.
func Flatten(p detector.NormalizedPose) []float64 {
	v := make([]float64, 0, detector.NumJoints*3)
	for _, j := range detector.CanonicalJoints {
		pt := p[j]
		v = append(v, pt.X, pt.Y, pt.Z)
	}
	return v
}

// Align computes the DTW alignment of two sequences of frame vectors using
// Euclidean frame distance. The path starts at (0,0), ends at (n-1,m-1) and
// advances by at most one index on each side per step.
func Align(a, b [][]float64) (Alignment, error) {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return Alignment{}, ErrEmptySequence
	}

	dim := len(a[0])
	for _, seq := range [][][]float64{a, b} {
		for i, v := range seq {
			if len(v) != dim {
				return Alignment{}, fmt.Errorf("%w: frame %d has %d values, want %d", ErrVectorLength, i, len(v), dim)
			}
		}
	}

	// (n+1) x (m+1) cost matrix with an infinite border.
	cost := make([][]float64, n+1)
	for i := range cost {
		cost[i] = make([]float64, m+1)
		for j := range cost[i] {
			cost[i][j] = math.Inf(1)
		}
	}
	cost[0][0] = 0

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			d := floats.Distance(a[i-1], b[j-1], 2)
			cost[i][j] = d + min(cost[i-1][j], cost[i][j-1], cost[i-1][j-1])
		}
	}

	return Alignment{Cost: cost[n][m], Path: backtrack(cost, n, m)}, nil
}

// backtrack walks the cost matrix from (n,m) back to (1,1), preferring the
// diagonal on ties.
func backtrack(cost [][]float64, n, m int) []Step {
	path := make([]Step, 0, n+m)
	i, j := n, m
	for {
		path = append(path, Step{I: i - 1, J: j - 1})
		if i == 1 && j == 1 {
			break
		}

		switch {
		case i == 1:
			j--
		case j == 1:
			i--
		default:
			diag, up, left := cost[i-1][j-1], cost[i-1][j], cost[i][j-1]
			switch {
			case diag <= up && diag <= left:
				i, j = i-1, j-1
			case up <= left:
				i--
			default:
				j--
			}
		}
	}

	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

// SequenceScore maps a DTW cost to [0, 100]: 100 at zero cost, falling
// linearly to 0 at maxDistance and beyond.
func SequenceScore(cost, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return 0
	}
	return round2(math.Max(0, 100-cost/maxDistance*100))
}

// Window keeps the most recent user/reference frame vector pairs of a live
// session. It is not safe for concurrent use.
type Window struct {
	size  int
	user  [][]float64
	ref   [][]float64
	start int
}

// NewWindow creates a window holding at most size pairs.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		size: size,
		user: make([][]float64, 0, size),
		ref:  make([][]float64, 0, size),
	}
}

// Push appends a pair, evicting the oldest when full.
func (w *Window) Push(user, ref []float64) {
	if len(w.user) < w.size {
		w.user = append(w.user, user)
		w.ref = append(w.ref, ref)
		return
	}
	w.user[w.start] = user
	w.ref[w.start] = ref
	w.start = (w.start + 1) % w.size
}

// Len returns the number of stored pairs.
func (w *Window) Len() int {
	return len(w.user)
}

// Reset empties the window.
func (w *Window) Reset() {
	w.user = w.user[:0]
	w.ref = w.ref[:0]
	w.start = 0
}

// Sequences returns the stored user and reference vectors oldest first.
func (w *Window) Sequences() (user, ref [][]float64) {
	n := len(w.user)
	user = make([][]float64, n)
	ref = make([][]float64, n)
	for k := 0; k < n; k++ {
		idx := (w.start + k) % n
		user[k] = w.user[idx]
		ref[k] = w.ref[idx]
	}
	return user, ref
}
