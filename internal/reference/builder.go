package reference

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/ayusman/natya/internal/capture"
	"github.com/ayusman/natya/internal/detector"
)

// DefaultInterval is how often the builder samples an expert video.
const DefaultInterval = time.Second

// Builder turns expert performances into reference records.
type Builder struct {
	detector detector.Detector
	// Interval is the minimum playback time between sampled frames.
	Interval time.Duration
}

// NewBuilder creates a builder that detects poses with d.
func NewBuilder(d detector.Detector) *Builder {
	return &Builder{
		detector: d,
		Interval: DefaultInterval,
	}
}

// BuildFromVideo samples the expert video at path.
func (b *Builder) BuildFromVideo(ctx context.Context, path string) ([]Record, error) {
	video := capture.NewVideoFile(path)
	if err := video.Open(); err != nil {
		return nil, err
	}
	defer video.Close()

	return b.Build(ctx, video)
}

// Build reads src to the end and records one normalized pose per sampled
// frame. The frame index is the whole second of playback, matching the index
// clock of practice sessions. Frames without a detected pose are skipped.
func (b *Builder) Build(ctx context.Context, src capture.Source) ([]Record, error) {
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var (
		records []Record
		seen    = make(map[int]bool)
		next    time.Duration
		misses  int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}

		pos := src.Position()
		if pos < next {
			frame.Close()
			continue
		}
		next = pos + interval

		pose, err := b.detector.Detect(frame)
		frame.Close()
		if err != nil {
			return nil, fmt.Errorf("detect at %v: %w", pos, err)
		}
		if pose == nil {
			misses++
			continue
		}

		index := int(pos / time.Second)
		if seen[index] {
			continue
		}

		normalized, err := detector.Normalize(pose, detector.Dim3D)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", index, err)
		}
		seen[index] = true
		records = append(records, Record{FrameIndex: index, Keypoints: normalized.Frame()})
	}

	if misses > 0 {
		log.Printf("Reference build: %d sampled frames had no pose", misses)
	}
	if len(records) == 0 {
		return nil, errors.New("no poses detected in source")
	}
	return records, nil
}

// MergeTakes averages several takes of the same choreography per frame index.
// A frame present in only some takes is averaged over those takes. Each
// averaged pose is normalized again.
func MergeTakes(takes ...[]Record) ([]Record, error) {
	if len(takes) == 0 {
		return nil, errors.New("no takes provided")
	}

	sums := make(map[int]detector.PoseFrame)
	counts := make(map[int]int)

	for t, take := range takes {
		for _, r := range take {
			if err := r.Keypoints.Validate(); err != nil {
				return nil, fmt.Errorf("take %d frame %d: %w", t, r.FrameIndex, err)
			}

			sum, ok := sums[r.FrameIndex]
			if !ok {
				sum = make(detector.PoseFrame, detector.NumJoints)
				sums[r.FrameIndex] = sum
			}
			for _, j := range detector.CanonicalJoints {
				p, q := sum[j], r.Keypoints[j]
				sum[j] = detector.Point3D{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
			}
			counts[r.FrameIndex]++
		}
	}

	indices := make([]int, 0, len(sums))
	for i := range sums {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	merged := make([]Record, 0, len(indices))
	for _, i := range indices {
		n := float64(counts[i])
		avg := make(detector.PoseFrame, detector.NumJoints)
		for j, p := range sums[i] {
			avg[j] = detector.Point3D{X: p.X / n, Y: p.Y / n, Z: p.Z / n}
		}

		normalized, err := detector.Normalize(avg, detector.Dim3D)
		if err != nil {
			return nil, err
		}
		merged = append(merged, Record{FrameIndex: i, Keypoints: normalized.Frame()})
	}

	return merged, nil
}
