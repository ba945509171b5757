package app

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/natya/internal/capture"
	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/store"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newSource returns an open mock video of n blank frames at fps.
func newSource(t *testing.T, n, fps int, loop bool) *capture.MockCamera {
	t.Helper()

	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { mat.Close() })

	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = &mat
	}
	src := capture.NewMockCamera(frames, loop)
	src.SetFPS(fps)
	if err := src.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return src
}

func newScorer(t *testing.T) *score.Scorer {
	t.Helper()
	s, err := score.NewScorer(score.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}
	return s
}

func TestLiveSession_Step(t *testing.T) {
	expert := newSource(t, 40, 2, false)
	camera := newSource(t, 1, 15, true)
	det := detector.NewMockDetector()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}

	ls, err := NewLiveSession(LiveConfig{
		SessionID: "session-1",
		Song:      &store.Song{Title: "Alarippu", FullStart: 0, FullEnd: 6},
		Mode:      store.ModeFull,
		Expert:    expert,
		Camera:    camera,
		Detector:  det,
		Scorer:    newScorer(t),
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewLiveSession() error = %v", err)
	}
	ls.started = clock.Now()

	// Expert pose is detected first, then the dancer.
	det.Queue(detector.StandingPose(), detector.Transform(detector.StandingPose(), 1.3, 0.05, 0, 0))
	r, err := ls.step()
	if err != nil {
		t.Fatalf("step() error = %v", err)
	}
	if r.Score != 100 || r.Feedback != score.Perfect {
		t.Errorf("matching poses: got %v %s, want 100 Perfect", r.Score, r.Feedback)
	}
	if r.WindowScore != 100 || r.WindowFrames != 1 {
		t.Errorf("window: got %v over %d frames, want 100 over 1", r.WindowScore, r.WindowFrames)
	}
	if r.FrameIndex != 0 || r.SessionID != "session-1" || r.Type != "evaluation" {
		t.Errorf("unexpected result header %+v", r)
	}

	clock.Advance(1500 * time.Millisecond)
	det.Queue(detector.ArmsRaisedPose(), detector.StandingPose())
	r, err = ls.step()
	if err != nil {
		t.Fatalf("step() error = %v", err)
	}
	if r.FrameIndex != 1 {
		t.Errorf("frame index after 1.5s = %d, want 1", r.FrameIndex)
	}
	if got := expert.Position(); got != 1500*time.Millisecond {
		t.Errorf("expert position = %v, want 1.5s", got)
	}
	if r.Score >= 100 || r.Score < 0 {
		t.Errorf("mismatched poses should score in [0, 100), got %v", r.Score)
	}
	if r.WindowScore >= 100 || r.WindowFrames != 2 {
		t.Errorf("window should reflect the mismatch: %v over %d frames", r.WindowScore, r.WindowFrames)
	}

	// Dancer out of view: zero score and no window reading.
	clock.Advance(1500 * time.Millisecond)
	det.Queue(detector.ArmsRaisedPose(), nil)
	r, err = ls.step()
	if err != nil {
		t.Fatalf("step() error = %v", err)
	}
	if !r.NoPose || r.Score != 0 || r.Feedback != score.Worst {
		t.Errorf("no pose: got %+v", r)
	}
	if r.WindowScore != 0 || r.WindowFeedback != "" || r.WindowFrames != 0 {
		t.Errorf("no pose should leave the window fields empty, got %v %q over %d frames",
			r.WindowScore, r.WindowFeedback, r.WindowFrames)
	}
	if r.FrameIndex != 3 {
		t.Errorf("frame index after 3s = %d, want 3", r.FrameIndex)
	}

	// The window resumes from the samples kept before the gap.
	clock.Advance(1500 * time.Millisecond)
	det.Queue(detector.StandingPose(), detector.StandingPose())
	r, err = ls.step()
	if err != nil {
		t.Fatalf("step() error = %v", err)
	}
	if r.NoPose || r.WindowFrames != 3 {
		t.Errorf("window after the gap: no_pose=%v over %d frames, want 3 frames", r.NoPose, r.WindowFrames)
	}
	if r.WindowFeedback == "" {
		t.Error("expected window feedback after the gap")
	}

	clock.Advance(1500 * time.Millisecond)
	if _, err := ls.step(); !errors.Is(err, errRangeEnd) {
		t.Errorf("step() past the range error = %v, want errRangeEnd", err)
	}
}

func TestLiveSession_HighlightOffsets(t *testing.T) {
	expert := newSource(t, 40, 2, false)
	camera := newSource(t, 1, 15, true)
	det := detector.NewMockDetector()
	det.SetPose(detector.StandingPose())
	clock := &fakeClock{t: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}

	ls, err := NewLiveSession(LiveConfig{
		SessionID: "session-2",
		Song:      &store.Song{FullEnd: 20, HighlightStart: 2.5, HighlightEnd: 8},
		Mode:      store.ModeHighlight,
		Expert:    expert,
		Camera:    camera,
		Detector:  det,
		Scorer:    newScorer(t),
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewLiveSession() error = %v", err)
	}
	ls.started = clock.Now()

	r, err := ls.step()
	if err != nil {
		t.Fatalf("step() error = %v", err)
	}
	if r.FrameIndex != 2 {
		t.Errorf("frame index at highlight start = %d, want 2", r.FrameIndex)
	}
	if got := expert.Position(); got != 2500*time.Millisecond {
		t.Errorf("expert position = %v, want 2.5s", got)
	}

	clock.Advance(1500 * time.Millisecond)
	r, err = ls.step()
	if err != nil {
		t.Fatalf("step() error = %v", err)
	}
	if r.FrameIndex != 4 {
		t.Errorf("frame index 1.5s into the highlight = %d, want 4", r.FrameIndex)
	}
}

func TestLiveSession_RunUntilEndOfVideo(t *testing.T) {
	expert := newSource(t, 3, 15, false)
	camera := newSource(t, 1, 15, true)
	det := detector.NewMockDetector()
	det.SetPose(detector.StandingPose())

	results := make(chan LiveResult, 64)
	ended := make(chan string, 1)

	ls, err := NewLiveSession(LiveConfig{
		SessionID: "session-3",
		Song:      &store.Song{Title: "Alarippu"},
		Mode:      store.ModeFull,
		Expert:    expert,
		Camera:    camera,
		Detector:  det,
		Scorer:    newScorer(t),
		Interval:  10 * time.Millisecond,
		OnResult:  func(r LiveResult) { results <- r },
		OnEnd:     func(id string) { ended <- id },
	})
	if err != nil {
		t.Fatalf("NewLiveSession() error = %v", err)
	}
	ls.Start()

	select {
	case id := <-ended:
		if id != "session-3" {
			t.Errorf("ended session = %s, want session-3", id)
		}
	case <-time.After(5 * time.Second):
		ls.Stop()
		t.Fatal("session did not end at the end of the video")
	}
	ls.Stop()

	if len(results) == 0 {
		t.Fatal("expected at least one result before the video ended")
	}
	for len(results) > 0 {
		if r := <-results; r.Score != 100 {
			t.Errorf("score = %v, want 100", r.Score)
		}
	}
	if expert.IsOpen() || camera.IsOpen() {
		t.Error("sources should be closed when the session ends")
	}
}

func TestLiveSession_StopBeforeStart(t *testing.T) {
	expert := newSource(t, 3, 15, false)
	camera := newSource(t, 1, 15, true)

	ls, err := NewLiveSession(LiveConfig{
		Song:     &store.Song{},
		Expert:   expert,
		Camera:   camera,
		Detector: detector.NewMockDetector(),
		Scorer:   newScorer(t),
	})
	if err != nil {
		t.Fatalf("NewLiveSession() error = %v", err)
	}

	ls.Stop()
	ls.Stop()

	if expert.IsOpen() || camera.IsOpen() {
		t.Error("Stop should close the sources")
	}
}

func TestNewLiveSession_Validation(t *testing.T) {
	if _, err := NewLiveSession(LiveConfig{}); err == nil {
		t.Error("expected error without sources")
	}

	_, err := NewLiveSession(LiveConfig{
		Expert: newSource(t, 1, 15, false),
		Camera: newSource(t, 1, 15, false),
	})
	if err == nil {
		t.Error("expected error without detector and scorer")
	}
}
