// Package app wires the natya practice system together: scoring engine,
// reference cache, pose detector, live sessions and the HTTP server.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ayusman/natya/internal/capture"
	"github.com/ayusman/natya/internal/config"
	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/reference"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/server"
	"github.com/ayusman/natya/internal/store"
)

// ErrLiveBusy is returned when a live session is started while another one
// holds the camera.
var ErrLiveBusy = errors.New("another live session is running")

// Config holds configuration options for the application.
type Config struct {
	Settings  *config.Config
	Store     *store.Store
	StaticDir string

	// Detector overrides the MediaPipe pose detector.
	Detector detector.Detector
	// OpenCamera and OpenExpert override how live session sources are opened.
	OpenCamera func() (capture.Source, error)
	OpenExpert func(path string) (capture.Seeker, error)

	// OnResult observes every live sample after it is stored. OnLiveChange
	// is called when a live session starts or stops.
	OnResult     func(LiveResult)
	OnLiveChange func(live bool)
}

// App is the main application that serves practice sessions.
type App struct {
	config   Config
	settings *config.Config
	detector detector.Detector
	cache    *reference.Cache
	engine   *score.Engine
	hub      *server.LiveHub
	server   *server.Server

	mu   sync.Mutex
	live map[string]*LiveSession
}

// New creates a new App instance with the given configuration.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app needs a store")
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}

	policy, err := settings.Policy()
	if err != nil {
		return nil, err
	}
	scorer, err := score.NewScorer(policy)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		settings: settings,
		detector: cfg.Detector,
		hub:      server.NewLiveHub(),
		live:     make(map[string]*LiveSession),
	}

	// Uploaded references take precedence over files built offline.
	a.cache = reference.NewCache(reference.ChainLoader{
		reference.NewStoreLoader(cfg.Store),
		reference.NewFileLoader(settings.GetReferenceDir()),
	})
	a.engine = score.NewEngine(scorer, a.cache)

	// Try MediaPipe first, fall back to mock detector
	if a.detector == nil {
		if mp, err := detector.NewMediaPipeDetector(settings.DetectorSettings()); err == nil {
			a.detector = mp
			log.Println("Using MediaPipe pose detection")
		} else {
			log.Printf("MediaPipe not available (%v), using mock detector", err)
			a.detector = detector.NewMockDetector()
		}
	}

	a.server = server.New(server.Config{
		StaticDir:  cfg.StaticDir,
		Store:      cfg.Store,
		Detector:   a.detector,
		Engine:     a.engine,
		References: a.cache,
		Live:       a,
		Hub:        a.hub,
	})

	return a, nil
}

// StartLive opens the camera and the song's expert video and starts sampling.
// Only one live session may run at a time.
func (a *App) StartLive(song *store.Song, sess *store.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.live) > 0 {
		return ErrLiveBusy
	}
	if song.ExpertVideoPath == "" {
		return fmt.Errorf("song %q has no expert video", song.Title)
	}

	expert, err := a.openExpert(song.ExpertVideoPath)
	if err != nil {
		return err
	}
	camera, err := a.openCamera()
	if err != nil {
		expert.Close()
		return err
	}

	ls, err := NewLiveSession(LiveConfig{
		SessionID: sess.ID,
		Song:      song,
		Mode:      sess.Mode,
		Expert:    expert,
		Camera:    camera,
		Detector:  a.detector,
		Scorer:    a.engine.Scorer(),
		Interval:  a.settings.GetLiveInterval(),
		OnResult:  a.handleResult,
		OnEnd:     a.handleEnd,
	})
	if err != nil {
		expert.Close()
		camera.Close()
		return err
	}

	a.live[sess.ID] = ls
	ls.Start()
	if a.config.OnLiveChange != nil {
		a.config.OnLiveChange(true)
	}
	log.Printf("Live session %s started for %s (%s)", sess.ID, song.Title, sess.Mode)
	return nil
}

// StopLive stops a running live session. Unknown IDs are ignored.
func (a *App) StopLive(sessionID string) {
	a.mu.Lock()
	ls, ok := a.live[sessionID]
	delete(a.live, sessionID)
	a.mu.Unlock()

	if ok {
		ls.Stop()
		log.Printf("Live session %s stopped", sessionID)
		if a.config.OnLiveChange != nil {
			a.config.OnLiveChange(false)
		}
	}
}

// LiveSessions returns the IDs of running live sessions.
func (a *App) LiveSessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.live))
	for id := range a.live {
		ids = append(ids, id)
	}
	return ids
}

// handleResult stores a live sample and broadcasts it.
func (a *App) handleResult(r LiveResult) {
	eval := &store.Evaluation{
		SessionID:  r.SessionID,
		FrameIndex: r.FrameIndex,
		Score:      r.Score,
		Feedback:   string(r.Feedback),
		Breakdown:  r.Breakdown.Map(),
		NoPose:     r.NoPose,
	}
	if err := a.config.Store.Sessions().AddEvaluation(eval); err != nil {
		log.Printf("Failed to save evaluation for session %s: %v", r.SessionID, err)
	}
	a.hub.Broadcast(r)
	if a.config.OnResult != nil {
		a.config.OnResult(r)
	}
}

// handleEnd releases a live session that reached the end of its song.
func (a *App) handleEnd(sessionID string) {
	a.StopLive(sessionID)
	a.hub.Broadcast(map[string]string{"type": "ended", "session_id": sessionID})
}

func (a *App) openCamera() (capture.Source, error) {
	if a.config.OpenCamera != nil {
		return a.config.OpenCamera()
	}
	cam := capture.NewCamera(capture.CameraConfig{
		DeviceID: a.settings.GetCameraID(),
		Mirror:   a.settings.GetMirror(),
	})
	if err := cam.Open(); err != nil {
		return nil, err
	}
	return cam, nil
}

func (a *App) openExpert(path string) (capture.Seeker, error) {
	if a.config.OpenExpert != nil {
		return a.config.OpenExpert(path)
	}
	v := capture.NewVideoFile(path)
	if err := v.Open(); err != nil {
		return nil, err
	}
	return v, nil
}

// Close stops all live sessions and releases the detector.
func (a *App) Close() error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.live))
	for id := range a.live {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.StopLive(id)
	}

	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			log.Printf("Error closing detector: %v", err)
			return err
		}
	}
	return nil
}

// Server returns the HTTP server.
func (a *App) Server() *server.Server {
	return a.server
}

// Engine returns the scoring engine.
func (a *App) Engine() *score.Engine {
	return a.engine
}

// References returns the reference cache.
func (a *App) References() *reference.Cache {
	return a.cache
}

// Detector returns the pose detector.
func (a *App) Detector() detector.Detector {
	return a.detector
}

// Hub returns the live result broadcaster.
func (a *App) Hub() *server.LiveHub {
	return a.hub
}
