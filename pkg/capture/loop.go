// Package capture runs the acquisition cycle: one GrabFrame per iteration,
// each frame handed to a Sink and released afterwards.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-depthcam/pkg/depthcam"
)

// Sink consumes frames. The frame is closed when HandleFrame returns, so a
// sink that keeps it must Clone it.
type Sink interface {
	HandleFrame(ctx context.Context, frame *depthcam.InputFrame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, frame *depthcam.InputFrame) error

// HandleFrame calls f.
func (f SinkFunc) HandleFrame(ctx context.Context, frame *depthcam.InputFrame) error {
	return f(ctx, frame)
}

// Config controls the loop.
type Config struct {
	// MaxFrames stops the loop after this many frames. Zero runs until cancelled.
	MaxFrames int64

	// MaxRetries is how many consecutive retryable errors are tolerated.
	MaxRetries int

	// RetryDelay is the pause before retrying a retryable error.
	RetryDelay time.Duration
}

// DefaultConfig returns a Config that runs forever and tolerates one second
// of dropped frames at 30 fps.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 30,
		RetryDelay: 10 * time.Millisecond,
	}
}

// Stats describes loop progress.
type Stats struct {
	Frames    int64     `json:"frames"`
	Retries   int64     `json:"retries"`
	LastIndex int64     `json:"last_index"`
	FPS       float64   `json:"fps"`
	Running   bool      `json:"running"`
	Started   time.Time `json:"started"`
	LastError string    `json:"last_error,omitempty"`
}

// Loop drives one camera. It is the camera's only caller.
type Loop struct {
	cam    depthcam.Camera
	sink   Sink
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a loop. A nil sink discards frames.
func New(cam depthcam.Camera, sink Sink, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, *depthcam.InputFrame) error { return nil })
	}
	return &Loop{
		cam:    cam,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("camera", cam.Name()),
	}
}

// Run grabs frames until ctx is done, MaxFrames is reached, or a fatal error
// occurs. Cancellation and the frame limit return nil.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.stats.Running {
		l.mu.Unlock()
		return errors.New("capture: loop already running")
	}
	l.stats = Stats{Running: true, Started: time.Now(), LastIndex: -1}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.stats.Running = false
		l.mu.Unlock()
	}()

	retries := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.cfg.MaxFrames > 0 && l.Stats().Frames >= l.cfg.MaxFrames {
			return nil
		}

		frame, err := l.cam.GrabFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.recordError(err)
			if depthcam.IsRetryable(err) && retries < l.cfg.MaxRetries {
				retries++
				l.logger.Debug("retrying frame", "attempt", retries, "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(l.cfg.RetryDelay):
				}
				continue
			}
			return fmt.Errorf("capture: grab frame: %w", err)
		}
		retries = 0

		err = l.sink.HandleFrame(ctx, &frame)
		index := frame.Index
		frame.Close()
		if err != nil {
			l.recordError(err)
			return fmt.Errorf("capture: sink: %w", err)
		}

		l.mu.Lock()
		l.stats.Frames++
		l.stats.LastIndex = index
		if elapsed := time.Since(l.stats.Started).Seconds(); elapsed > 0 {
			l.stats.FPS = float64(l.stats.Frames) / elapsed
		}
		l.mu.Unlock()
	}
}

func (l *Loop) recordError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.LastError = err.Error()
	if depthcam.IsRetryable(err) {
		l.stats.Retries++
	}
}

// Stats returns a snapshot of loop progress.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
