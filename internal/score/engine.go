package score

import (
	"context"
	"fmt"
	"time"

	"github.com/ayusman/natya/internal/detector"
)

// ReferenceSource provides reference poses by song and frame index.
type ReferenceSource interface {
	Frame(ctx context.Context, song string, index int) (detector.NormalizedPose, error)
}

// Engine evaluates user poses against stored reference poses.
type Engine struct {
	scorer *Scorer
	refs   ReferenceSource
}

// NewEngine creates an engine scoring with scorer against refs.
func NewEngine(scorer *Scorer, refs ReferenceSource) *Engine {
	return &Engine{scorer: scorer, refs: refs}
}

// Scorer returns the engine's scorer.
func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

// Evaluate scores one user pose against the reference frame of a song.
//
// The reference is looked up first so a missing reference is always reported
// as an error, even when the user pose is absent. A nil user pose yields the
// NoPose result; a malformed one fails with detector.ErrMissingJoint.
func (e *Engine) Evaluate(ctx context.Context, user detector.PoseFrame, song string, frame int) (Result, error) {
	ref, err := e.refs.Frame(ctx, song, frame)
	if err != nil {
		return Result{}, err
	}

	if user == nil {
		return e.scorer.NoPose(), nil
	}

	dims := e.scorer.policy.Dimensions
	u, err := detector.Normalize(user, dims)
	if err != nil {
		return Result{}, fmt.Errorf("user pose: %w", err)
	}
	r, err := detector.Normalize(ref.Frame(), dims)
	if err != nil {
		return Result{}, fmt.Errorf("reference pose: %w", err)
	}

	return e.scorer.Compare(u, r), nil
}

// SequenceResult is the outcome of aligning two pose sequences.
type SequenceResult struct {
	Score    float64  `json:"score"`
	Feedback Feedback `json:"feedback"`
	Cost     float64  `json:"cost"`
	Path     []Step   `json:"path"`
}

// CompareSequences aligns two pose sequences with DTW and scores the cost
// against maxDistance.
func (e *Engine) CompareSequences(user, ref []detector.PoseFrame, maxDistance float64) (SequenceResult, error) {
	a, err := e.vectors(user)
	if err != nil {
		return SequenceResult{}, fmt.Errorf("user sequence: %w", err)
	}
	b, err := e.vectors(ref)
	if err != nil {
		return SequenceResult{}, fmt.Errorf("reference sequence: %w", err)
	}

	alignment, err := Align(a, b)
	if err != nil {
		return SequenceResult{}, err
	}

	s := SequenceScore(alignment.Cost, maxDistance)
	return SequenceResult{
		Score:    s,
		Feedback: e.scorer.Label(s),
		Cost:     alignment.Cost,
		Path:     alignment.Path,
	}, nil
}

// Vector normalizes a pose under the engine's policy and flattens it.
func (e *Engine) Vector(p detector.PoseFrame) ([]float64, error) {
	n, err := detector.Normalize(p, e.scorer.policy.Dimensions)
	if err != nil {
		return nil, err
	}
	return Flatten(n), nil
}

func (e *Engine) vectors(seq []detector.PoseFrame) ([][]float64, error) {
	out := make([][]float64, 0, len(seq))
	for i, p := range seq {
		v, err := e.Vector(p)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FrameIndexAt returns the reference frame index for a moment in a session:
// whole seconds elapsed since start, never negative.
func FrameIndexAt(start, now time.Time) int {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
