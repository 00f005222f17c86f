// Package depthcam provides interchangeable depth+color frame sources for a
// 3-D reconstruction pipeline.
//
// This package supports multiple backends:
//   - pseudo - replay of a recorded dataset directory, looping forever
//   - realsense - Intel RealSense device or .bag recording (requires -tags realsense)
//   - mock - synthetic device driving the live camera path, for CI and development
//   - kinect - reserved, not implemented
//
// Every backend delivers depth in millimeters as CV_32FC1 and color as BGR CV_8UC3,
// so consumers never need to know which source is active.
package depthcam

import (
	"fmt"
	"time"
)

// Backend represents the frame source type.
type Backend string

const (
	// BackendPseudo replays a dataset directory.
	BackendPseudo Backend = "pseudo"
	// BackendRealSense drives a RealSense pipeline.
	BackendRealSense Backend = "realsense"
	// BackendMock drives the live camera over a synthetic device.
	BackendMock Backend = "mock"
	// BackendKinect is reserved for a Kinect source.
	BackendKinect Backend = "kinect"
)

// Config holds frame source configuration.
type Config struct {
	// Backend selects the frame source.
	Backend Backend `json:"backend"`

	// DatasetPath is the directory replayed by the pseudo backend.
	DatasetPath string `json:"dataset_path"`

	// PlaybackFile, when set, makes the realsense backend replay a recorded
	// device file instead of opening live hardware.
	PlaybackFile string `json:"playback_file"`

	// Stream is the resolution and rate requested from live hardware.
	// Ignored for dataset replay and playback files.
	Stream StreamProfile `json:"stream"`

	// GrabTimeout bounds each live GrabFrame wait.
	// Zero blocks until a frame arrives or the context is cancelled.
	GrabTimeout time.Duration `json:"grab_timeout"`
}

// DefaultConfig returns a Config for live RealSense capture at 1280x720@30.
func DefaultConfig() Config {
	return Config{
		Backend: BackendRealSense,
		Stream:  DefaultStreamProfile(),
	}
}

// Validate checks that the configuration is usable for its backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPseudo:
		if c.DatasetPath == "" {
			return fmt.Errorf("dataset_path is required for the %s backend", c.Backend)
		}
	case BackendRealSense, BackendMock:
		if c.PlaybackFile == "" {
			if errs := c.Stream.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid stream profile: %v", errs)
			}
		}
	case BackendKinect:
	default:
		return fmt.Errorf("unknown backend: %q", c.Backend)
	}
	if c.GrabTimeout < 0 {
		return fmt.Errorf("grab_timeout must not be negative, got %v", c.GrabTimeout)
	}
	return nil
}
