// Package config provides environment defaults for the depthcam commands.
// Command-line flags override every value read here.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/teslashibe/go-depthcam/pkg/depthcam"
)

// Environment variables read by Load.
const (
	EnvSource   = "DEPTHCAM_SOURCE"
	EnvDataset  = "DEPTHCAM_DATASET"
	EnvPlayback = "DEPTHCAM_PLAYBACK"
	EnvPreset   = "DEPTHCAM_PRESET"
	EnvWebPort  = "DEPTHCAM_WEB_PORT"
	EnvLogLevel = "LOG_LEVEL"
)

// Defaults used when the environment is empty.
const (
	DefaultSource   = string(depthcam.BackendRealSense)
	DefaultPreset   = depthcam.PresetDefault
	DefaultLogLevel = "info"
)

// Env holds command defaults taken from the environment.
type Env struct {
	Source   string
	Dataset  string
	Playback string
	Preset   string
	// WebPort is 0 when the preview server is disabled.
	WebPort  int
	LogLevel string
}

// Load reads the environment. An unparsable port is an error.
func Load() (Env, error) {
	env := Env{
		Source:   Getenv(EnvSource, DefaultSource),
		Dataset:  os.Getenv(EnvDataset),
		Playback: os.Getenv(EnvPlayback),
		Preset:   Getenv(EnvPreset, DefaultPreset),
		LogLevel: Getenv(EnvLogLevel, DefaultLogLevel),
	}
	if v := os.Getenv(EnvWebPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return env, fmt.Errorf("%s: invalid port %q", EnvWebPort, v)
		}
		env.WebPort = port
	}
	return env, nil
}

// Getenv returns the value of key, or def if it is unset or empty.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// CameraConfig builds a depthcam.Config from source, dataset, playback and
// preset names.
func CameraConfig(source, dataset, playback, preset string) (depthcam.Config, error) {
	cfg := depthcam.DefaultConfig()
	cfg.Backend = depthcam.Backend(source)
	cfg.DatasetPath = dataset
	cfg.PlaybackFile = playback
	if preset != "" {
		p := depthcam.GetPreset(preset)
		if p == nil {
			return cfg, fmt.Errorf("unknown preset %q (available: %v)", preset, depthcam.PresetNames())
		}
		cfg.Stream = *p
	}
	return cfg, nil
}
