package depthcam

import (
	"fmt"
	"log/slog"
)

// New creates a camera for cfg.Backend.
func New(cfg Config, logger *slog.Logger) (Camera, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating depth camera",
		"backend", cfg.Backend,
		"dataset", cfg.DatasetPath,
		"playback", cfg.PlaybackFile,
		"stream", cfg.Stream.String(),
	)

	switch cfg.Backend {
	case BackendPseudo:
		cam, err := NewDatasetReplayCamera(cfg.DatasetPath, logger)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case BackendRealSense:
		rt, err := NewRealSenseRuntime()
		if err != nil {
			return nil, err
		}
		return newLive(rt, cfg, logger)
	case BackendMock:
		return newLive(NewMockRuntime(), cfg, logger)
	case BackendKinect:
		return NewKinectCamera()
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

func newLive(rt Runtime, cfg Config, logger *slog.Logger) (Camera, error) {
	cam, err := NewLiveDepthCamera(rt, LiveOptions{
		Name:         string(cfg.Backend),
		PlaybackFile: cfg.PlaybackFile,
		Stream:       cfg.Stream,
		GrabTimeout:  cfg.GrabTimeout,
	}, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return cam, nil
}

// NewKinectCamera is reserved for a Kinect backend and always fails.
func NewKinectCamera() (Camera, error) {
	return nil, fmt.Errorf("%w: kinect", ErrBackendUnavailable)
}

// AvailableBackends returns the backends that can be constructed in this build.
func AvailableBackends() []Backend {
	backends := []Backend{BackendPseudo, BackendMock}
	if rt, err := NewRealSenseRuntime(); err == nil {
		rt.Close()
		backends = append(backends, BackendRealSense)
	}
	return backends
}
