// Package report summarizes practice sessions and renders their score charts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ayusman/natya/internal/store"
)

// ErrNoEvaluations is returned when a session has nothing to report.
var ErrNoEvaluations = errors.New("session has no evaluations")

// Summary is the aggregate of a session's frame evaluations.
// Frames without a detected pose count as 0.
type Summary struct {
	Frames int     `json:"frames"`
	NoPose int     `json:"no_pose"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes score statistics over evaluations.
func Summarize(evals []store.Evaluation) (Summary, error) {
	if len(evals) == 0 {
		return Summary{}, ErrNoEvaluations
	}

	scores := make([]float64, len(evals))
	var noPose int
	for i, e := range evals {
		scores[i] = e.Score
		if e.NoPose {
			noPose++
		}
	}

	mean, std := stat.MeanStdDev(scores, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Summary{
		Frames: len(evals),
		NoPose: noPose,
		Mean:   math.Round(mean*100) / 100,
		StdDev: math.Round(std*100) / 100,
		Min:    floats.Min(scores),
		Max:    floats.Max(scores),
	}, nil
}

// Chart size.
const (
	chartWidth  = 10 * vg.Inch
	chartHeight = 4 * vg.Inch
)

var (
	scoreColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	noPoseColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	meanColor   = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

// WriteChart renders the per-frame scores of a session as a PNG line chart.
// Frames without a pose are marked separately; the session mean is drawn as
// a horizontal line.
func WriteChart(w io.Writer, title string, evals []store.Evaluation) error {
	summary, err := Summarize(evals)
	if err != nil {
		return err
	}

	sorted := make([]store.Evaluation, len(evals))
	copy(sorted, evals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FrameIndex < sorted[j].FrameIndex })

	pts := make(plotter.XYs, 0, len(sorted))
	var missing plotter.XYs
	for _, e := range sorted {
		pt := plotter.XY{X: float64(e.FrameIndex), Y: e.Score}
		pts = append(pts, pt)
		if e.NoPose {
			missing = append(missing, pt)
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame (s)"
	p.Y.Label.Text = "Score"
	p.Y.Min = 0
	p.Y.Max = 100
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("score line: %w", err)
	}
	line.Color = scoreColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("score", line)

	first, last := pts[0].X, pts[len(pts)-1].X
	if last == first {
		last = first + 1
	}
	mean, err := plotter.NewLine(plotter.XYs{{X: first, Y: summary.Mean}, {X: last, Y: summary.Mean}})
	if err != nil {
		return fmt.Errorf("mean line: %w", err)
	}
	mean.Color = meanColor
	mean.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	p.Add(mean)
	p.Legend.Add(fmt.Sprintf("mean %.2f", summary.Mean), mean)

	if len(missing) > 0 {
		marks, err := plotter.NewScatter(missing)
		if err != nil {
			return fmt.Errorf("no-pose markers: %w", err)
		}
		marks.Color = noPoseColor
		marks.Radius = vg.Points(3)
		p.Add(marks)
		p.Legend.Add("no pose", marks)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(chartWidth, chartHeight, "png")
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
