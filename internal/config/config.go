// Package config loads the service configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/score"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/natya.defaults.json"

// Config is the root configuration. Omitted fields fall back to the defaults
// returned by the Get* methods, so partial files are safe.
type Config struct {
	Addr         *string `json:"addr,omitempty"`
	DataDir      *string `json:"data_dir,omitempty"`
	ReferenceDir *string `json:"reference_dir,omitempty"`
	CameraID     *int    `json:"camera_id,omitempty"`

	Scoring  ScoringConfig  `json:"scoring"`
	Live     LiveConfig     `json:"live"`
	Detector DetectorConfig `json:"detector"`
}

// ScoringConfig holds the scoring policy.
type ScoringConfig struct {
	// Preset picks the base policy: "directional" (default) or "angular",
	// which adds joint-angle components. Weights given here replace the
	// preset's weights.
	Preset             *string            `json:"preset,omitempty"`
	Dimensions         *int               `json:"dimensions,omitempty"`
	Weights            map[string]float64 `json:"weights,omitempty"`
	Tiers              []TierConfig       `json:"tiers,omitempty"`
	FrameMaxDistance   *float64           `json:"frame_max_distance,omitempty"`
	SessionMaxDistance *float64           `json:"session_max_distance,omitempty"`
	Window             *int               `json:"window,omitempty"`
}

// TierConfig is one feedback tier: scores at or above Min get Label.
type TierConfig struct {
	Min   float64 `json:"min"`
	Label string  `json:"label"`
}

// LiveConfig controls live practice sessions.
type LiveConfig struct {
	Interval *string `json:"interval,omitempty"` // duration string like "1.5s"
	Mirror   *bool   `json:"mirror,omitempty"`
}

// DetectorConfig controls the pose estimation service.
type DetectorConfig struct {
	MinConfidence         *float64 `json:"min_confidence,omitempty"`
	MinTrackingConfidence *float64 `json:"min_tracking_confidence,omitempty"`
}

// Default returns an empty configuration; every getter yields its default.
func Default() *Config {
	return &Config{}
}

// Load loads a Config from a JSON file.
// The file must have a .json extension and be at most 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Live.Interval != nil && *c.Live.Interval != "" {
		d, err := time.ParseDuration(*c.Live.Interval)
		if err != nil {
			return fmt.Errorf("invalid live.interval '%s': %w", *c.Live.Interval, err)
		}
		if d <= 0 {
			return fmt.Errorf("live.interval must be positive, got %s", d)
		}
	}

	for name, v := range map[string]*float64{
		"detector.min_confidence":          c.Detector.MinConfidence,
		"detector.min_tracking_confidence": c.Detector.MinTrackingConfidence,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// GetAddr returns the HTTP listen address.
func (c *Config) GetAddr() string {
	if c.Addr == nil || *c.Addr == "" {
		return "127.0.0.1:8080"
	}
	return *c.Addr
}

// GetDataDir returns the directory holding the database.
func (c *Config) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".natya"
		}
		return filepath.Join(home, ".natya")
	}
	return *c.DataDir
}

// GetReferenceDir returns the directory holding <song>_ref_pose.json files.
func (c *Config) GetReferenceDir() string {
	if c.ReferenceDir == nil || *c.ReferenceDir == "" {
		return filepath.Join(c.GetDataDir(), "references")
	}
	return *c.ReferenceDir
}

// GetCameraID returns the camera device index.
func (c *Config) GetCameraID() int {
	if c.CameraID == nil {
		return 0
	}
	return *c.CameraID
}

// GetLiveInterval returns the sampling interval of live sessions.
func (c *Config) GetLiveInterval() time.Duration {
	if c.Live.Interval == nil || *c.Live.Interval == "" {
		return 1500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.Live.Interval)
	if err != nil {
		return 1500 * time.Millisecond
	}
	return d
}

// GetMirror reports whether the camera image is mirrored.
func (c *Config) GetMirror() bool {
	if c.Live.Mirror == nil {
		return true
	}
	return *c.Live.Mirror
}

// DetectorSettings returns the pose detector settings.
func (c *Config) DetectorSettings() detector.Config {
	cfg := detector.DefaultConfig()
	if c.Detector.MinConfidence != nil {
		cfg.MinConfidence = *c.Detector.MinConfidence
	}
	if c.Detector.MinTrackingConfidence != nil {
		cfg.MinTrackingConf = *c.Detector.MinTrackingConfidence
	}
	return cfg
}

// Policy builds the scoring policy, starting from the configured preset.
// Weights and tiers given in the file replace the preset's as a whole.
func (c *Config) Policy() (score.Policy, error) {
	s := c.Scoring

	var p score.Policy
	switch preset := ptrOr(s.Preset, "directional"); preset {
	case "directional", "":
		p = score.DefaultPolicy()
	case "angular":
		p = score.AngularPolicy()
	default:
		return score.Policy{}, fmt.Errorf("unknown scoring.preset '%s'", preset)
	}

	if s.Dimensions != nil {
		p.Dimensions = detector.Dimensions(*s.Dimensions)
	}
	if len(s.Weights) > 0 {
		p.Weights = make(score.Weights, len(s.Weights))
		for name, w := range s.Weights {
			p.Weights[score.Component(name)] = w
		}
	}
	if len(s.Tiers) > 0 {
		p.Tiers = make(score.Tiers, len(s.Tiers))
		for i, t := range s.Tiers {
			p.Tiers[i] = score.Tier{Min: t.Min, Label: score.Feedback(t.Label)}
		}
	}
	if s.FrameMaxDistance != nil {
		p.FrameMaxDistance = *s.FrameMaxDistance
	}
	if s.SessionMaxDistance != nil {
		p.SessionMaxDistance = *s.SessionMaxDistance
	}
	if s.Window != nil {
		p.Window = *s.Window
	}

	if err := p.Validate(); err != nil {
		return score.Policy{}, err
	}
	return p, nil
}

func ptrOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
