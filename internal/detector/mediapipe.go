package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// idleShutdown is how long the pose service may sit unused before it is stopped.
const idleShutdown = 30 * time.Second

// maxFrameBytes bounds one encoded frame on the wire.
const maxFrameBytes = 16 << 20

// MediaPipeDetector implements Detector using a Python MediaPipe Pose subprocess.
//
// Protocol: each frame is sent as a 4-byte big-endian length followed by JPEG
// bytes; the service answers with one JSON line holding the 33 pose landmarks,
// or an empty list when no person is visible.
type MediaPipeDetector struct {
	config    Config
	script    string
	mu        sync.Mutex
	proc      *poseProcess
	idleTimer *time.Timer
}

// poseProcess is a running pose service.
type poseProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewMediaPipeDetector creates a new MediaPipe pose detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	script := findPoseScript()
	if script == "" {
		return nil, errors.New("pose_service.py not found")
	}
	return &MediaPipeDetector{config: config, script: script}, nil
}

// Detect analyzes a frame and returns the canonical joints, or nil when no pose is found.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) (PoseFrame, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.proc == nil {
		proc, err := d.start()
		if err != nil {
			return nil, err
		}
		d.proc = proc
	}

	if err := writeFrame(d.proc.stdin, buf.GetBytes()); err != nil {
		d.shutdown()
		return nil, err
	}
	landmarks, err := readLandmarks(d.proc.stdout)
	if err != nil {
		d.shutdown()
		return nil, err
	}
	d.resetIdleTimer()

	return FromLandmarks(landmarks)
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

// args builds the pose service command line.
func (d *MediaPipeDetector) args() []string {
	args := []string{
		d.script,
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', 2, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', 2, 64),
	}
	if d.config.StaticImage {
		args = append(args, "--static-image")
	}
	return args
}

func (d *MediaPipeDetector) start() (*poseProcess, error) {
	python := findVenvPython()
	if python == "" {
		python = "python3"
	}
	cmd := exec.Command(python, d.args()...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start pose service: %w", err)
	}

	return &poseProcess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

// shutdown stops the process. Callers hold d.mu.
func (d *MediaPipeDetector) shutdown() error {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	if d.proc == nil {
		return nil
	}
	proc := d.proc
	d.proc = nil

	proc.stdin.Close()
	return proc.cmd.Wait()
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// writeFrame sends one length-prefixed frame.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(data), maxFrameBytes)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// readLandmarks reads one JSON response line.
func readLandmarks(r *bufio.Reader) ([]Point3D, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var response struct {
		Landmarks []Point3D `json:"landmarks"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return response.Landmarks, nil
}

func findPoseScript() string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	return firstExisting([]string{
		"scripts/pose_service.py",
		"../scripts/pose_service.py",
		filepath.Join(execDir, "scripts/pose_service.py"),
		filepath.Join(os.Getenv("HOME"), ".natya/scripts/pose_service.py"),
	})
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	return firstExisting([]string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".natya/venv/bin/python"),
	})
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
