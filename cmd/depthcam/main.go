// depthcam - acquire depth+color frames from a RealSense device, a recording,
// or a replayed dataset, and optionally serve a live preview.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-depthcam/internal/config"
	dlog "github.com/teslashibe/go-depthcam/internal/log"
	"github.com/teslashibe/go-depthcam/pkg/capture"
	"github.com/teslashibe/go-depthcam/pkg/depthcam"
	"github.com/teslashibe/go-depthcam/pkg/web"
)

type options struct {
	source   string
	dataset  string
	playback string
	preset   string
	frames   int64
	timeout  time.Duration
	webPort  int
	logLevel string
}

func parseFlags(env config.Env) options {
	var o options
	flag.StringVar(&o.source, "source", env.Source, fmt.Sprintf("Frame source: %v", depthcam.AvailableBackends()))
	flag.StringVar(&o.dataset, "dataset", env.Dataset, "Dataset directory for the pseudo source")
	flag.StringVar(&o.playback, "playback", env.Playback, "Recorded device file to replay instead of live hardware")
	flag.StringVar(&o.preset, "preset", env.Preset, fmt.Sprintf("Stream preset: %v", depthcam.PresetNames()))
	flag.Int64Var(&o.frames, "frames", 0, "Stop after this many frames (0 = run until interrupted)")
	flag.DurationVar(&o.timeout, "timeout", 0, "Per-frame wait limit for live sources (0 = unbounded)")
	flag.IntVar(&o.webPort, "web", env.WebPort, "Preview server port (0 = disabled)")
	flag.StringVar(&o.logLevel, "log-level", env.LogLevel, "Log level: debug, info, warn, error")
	flag.Parse()
	return o
}

func main() {
	env, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}
	opts := parseFlags(env)
	dlog.Init(opts.logLevel)
	logger := dlog.With("cmd", "depthcam")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("depthcam failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	cfg, err := config.CameraConfig(opts.source, opts.dataset, opts.playback, opts.preset)
	if err != nil {
		return err
	}
	cfg.GrabTimeout = opts.timeout

	cam, err := depthcam.New(cfg, logger)
	if err != nil {
		if errors.Is(err, depthcam.ErrBackendUnavailable) {
			logger.Error("backend not compiled in", "source", opts.source, "available", depthcam.AvailableBackends())
		}
		return err
	}
	defer cam.Close()

	p := cam.Parameters()
	logger.Info("camera ready",
		"source", cam.Name(),
		"width", p.ImageWidth,
		"height", p.ImageHeight,
		"fx", p.FocalX,
		"fy", p.FocalY,
		"cx", p.PrincipalX,
		"cy", p.PrincipalY,
	)

	loopCfg := capture.DefaultConfig()
	loopCfg.MaxFrames = opts.frames

	var sink capture.Sink
	var srv *web.Server
	if opts.webPort > 0 {
		srv = web.NewServer(cam, logger)
		sink = srv
	}
	loop := capture.New(cam, sink, loopCfg, logger)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	webErr := make(chan error, 1)
	if srv != nil {
		srv.StatsFunc = loop.Stats
		go func() {
			err := srv.ListenAndServe(runCtx, fmt.Sprintf(":%d", opts.webPort))
			if err != nil {
				stop()
			}
			webErr <- err
		}()
	}

	go reportStats(runCtx, loop, logger)

	loopErr := loop.Run(runCtx)
	stop()

	st := loop.Stats()
	logger.Info("capture stopped",
		"frames", st.Frames,
		"retries", st.Retries,
		"fps", fmt.Sprintf("%.1f", st.FPS),
	)

	if srv != nil {
		if err := <-webErr; err != nil && loopErr == nil {
			loopErr = err
		}
	}
	return loopErr
}

// reportStats logs capture progress once per second.
func reportStats(ctx context.Context, loop *capture.Loop, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := loop.Stats()
			logger.Info("capture",
				"frames", st.Frames,
				"rate", st.Frames-last,
				"index", st.LastIndex,
				"retries", st.Retries,
			)
			last = st.Frames
		}
	}
}
