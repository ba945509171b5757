package app

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/natya/internal/capture"
	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/store"
)

// DefaultInterval is the live sampling period.
const DefaultInterval = 1500 * time.Millisecond

// errRangeEnd is returned by step once the session passes the end of its range.
var errRangeEnd = errors.New("end of practice range")

// LiveResult is the outcome of one live sample. It is broadcast to clients
// as JSON.
type LiveResult struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	FrameIndex int             `json:"frame_index"`
	Score      float64         `json:"score"`
	Feedback   score.Feedback  `json:"feedback"`
	Breakdown  score.Breakdown `json:"breakdown,omitempty"`
	NoPose     bool            `json:"no_pose,omitempty"`
	// WindowScore is the DTW score over the recent samples of the session.
	// The window fields are left empty on NoPose ticks.
	WindowScore    float64        `json:"window_score,omitempty"`
	WindowFeedback score.Feedback `json:"window_feedback,omitempty"`
	WindowFrames   int            `json:"window_frames,omitempty"`
	Timestamp      int64          `json:"timestamp"`
}

// LiveConfig configures a LiveSession.
type LiveConfig struct {
	SessionID string
	Song      *store.Song
	Mode      store.Mode
	// Expert plays the choreography video; the camera shows the dancer.
	Expert   capture.Seeker
	Camera   capture.Source
	Detector detector.Detector
	Scorer   *score.Scorer
	Interval time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
	// OnResult receives every sample. OnEnd is called once when the session
	// stops on its own.
	OnResult func(LiveResult)
	OnEnd    func(sessionID string)
}

// LiveSession compares a dancer on camera against the expert video at a
// fixed interval.
type LiveSession struct {
	config     LiveConfig
	policy     score.Policy
	rangeStart time.Duration
	rangeEnd   time.Duration
	window     *score.Window
	started    time.Time
	launched   bool

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLiveSession creates a session; call Start to begin sampling.
func NewLiveSession(cfg LiveConfig) (*LiveSession, error) {
	if cfg.Expert == nil || cfg.Camera == nil {
		return nil, errors.New("live session needs an expert video and a camera")
	}
	if cfg.Detector == nil || cfg.Scorer == nil || cfg.Song == nil {
		return nil, errors.New("live session needs a detector, a scorer and a song")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	start, end := cfg.Song.Range(cfg.Mode)
	policy := cfg.Scorer.Policy()
	return &LiveSession{
		config:     cfg,
		policy:     policy,
		rangeStart: seconds(start),
		rangeEnd:   seconds(end),
		window:     score.NewWindow(policy.Window),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ID returns the store session ID.
func (s *LiveSession) ID() string {
	return s.config.SessionID
}

// Start records the session start time and begins sampling.
func (s *LiveSession) Start() {
	s.started = s.config.Clock()
	s.launched = true
	go s.run()
}

// Stop halts sampling and closes both sources. It is safe to call more than once.
func (s *LiveSession) Stop() {
	first := false
	s.stopOnce.Do(func() {
		close(s.stopCh)
		first = true
	})
	if !s.launched {
		if first {
			s.closeSources()
		}
		return
	}
	<-s.done
}

// run is the sampling loop.
//
// Each tick:
// 1. Seek the expert video to the session offset and read both frames
// 2. Detect the expert and dancer poses
// 3. Score the pair directionally
// 4. Push the pair into the DTW window and score the window
// 5. Hand the result to OnResult
//
// The loop ends on Stop, at the end of the range or at the end of the video.
func (s *LiveSession) run() {
	defer close(s.done)
	defer s.closeSources()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			result, err := s.step()
			if errors.Is(err, errRangeEnd) || errors.Is(err, capture.ErrEndOfStream) {
				log.Printf("Live session %s reached the end of the song", s.config.SessionID)
				if s.config.OnEnd != nil {
					go s.config.OnEnd(s.config.SessionID)
				}
				return
			}
			if err != nil {
				log.Printf("Live session %s: %v", s.config.SessionID, err)
				continue
			}
			if s.config.OnResult != nil {
				s.config.OnResult(result)
			}
		}
	}
}

// step takes and scores one sample.
func (s *LiveSession) step() (LiveResult, error) {
	now := s.config.Clock()
	offset := s.rangeStart + now.Sub(s.started)
	if s.rangeEnd > s.rangeStart && offset >= s.rangeEnd {
		return LiveResult{}, errRangeEnd
	}
	frameIndex := score.FrameIndexAt(s.started.Add(-s.rangeStart), now)

	s.config.Expert.Seek(offset)
	refPose, err := s.detect(s.config.Expert)
	if err != nil {
		return LiveResult{}, fmt.Errorf("expert video: %w", err)
	}
	userPose, err := s.detect(s.config.Camera)
	if err != nil {
		return LiveResult{}, fmt.Errorf("camera: %w", err)
	}

	result := LiveResult{
		Type:       "evaluation",
		SessionID:  s.config.SessionID,
		FrameIndex: frameIndex,
		Timestamp:  now.UnixMilli(),
	}

	if userPose == nil || refPose == nil {
		frame := s.config.Scorer.NoPose()
		result.Score = frame.Score
		result.Feedback = frame.Feedback
		result.Breakdown = frame.Breakdown
		result.NoPose = true
		return result, nil
	}

	u, err := detector.Normalize(userPose, s.policy.Dimensions)
	if err != nil {
		return LiveResult{}, fmt.Errorf("dancer pose: %w", err)
	}
	r, err := detector.Normalize(refPose, s.policy.Dimensions)
	if err != nil {
		return LiveResult{}, fmt.Errorf("expert pose: %w", err)
	}
	frame := s.config.Scorer.Compare(u, r)

	s.window.Push(score.Flatten(u), score.Flatten(r))
	user, ref := s.window.Sequences()
	alignment, err := score.Align(user, ref)
	if err != nil {
		return LiveResult{}, err
	}
	window := score.SequenceScore(alignment.Cost, s.policy.SessionMaxDistance)

	result.Score = frame.Score
	result.Feedback = frame.Feedback
	result.Breakdown = frame.Breakdown
	result.WindowScore = window
	result.WindowFeedback = s.config.Scorer.Label(window)
	result.WindowFrames = s.window.Len()
	return result, nil
}

// detect reads a frame from src and returns its pose, or nil when no pose is
// visible.
func (s *LiveSession) detect(src capture.Source) (detector.PoseFrame, error) {
	frame, err := src.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	if frame.Empty() {
		return nil, nil
	}
	return s.config.Detector.Detect(frame)
}

func (s *LiveSession) closeSources() {
	if err := s.config.Expert.Close(); err != nil {
		log.Printf("Error closing expert video: %v", err)
	}
	if err := s.config.Camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}
}
