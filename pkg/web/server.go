// Package web serves a live preview of a depth camera: intrinsics, capture
// status, and JPEG color and colorized depth frames over HTTP and websockets.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-depthcam/pkg/capture"
	"github.com/teslashibe/go-depthcam/pkg/depthcam"
	"github.com/teslashibe/go-depthcam/pkg/hub"
	"gocv.io/x/gocv"
)

// DefaultDepthRangeMM is the depth mapped to the end of the preview colormap.
const DefaultDepthRangeMM = 4000

// Status is reported by /api/status and /ws/status.
type Status struct {
	Camera    string               `json:"camera"`
	SessionID string               `json:"session_id,omitempty"`
	Device    *depthcam.DeviceInfo `json:"device,omitempty"`
	Capture   capture.Stats        `json:"capture"`
	Clients   int                  `json:"clients"`
}

// Server is the preview server. It implements capture.Sink.
type Server struct {
	app    *fiber.App
	logger *slog.Logger

	cameraName string
	sessionID  string
	device     *depthcam.DeviceInfo
	params     depthcam.CameraParameters

	// DepthRangeMM scales depth to the preview colormap.
	DepthRangeMM float64

	// StatsFunc, when set, supplies capture progress for status reports.
	StatsFunc func() capture.Stats

	mu        sync.RWMutex
	colorJPEG []byte
	depthJPEG []byte

	colorHub  *hub.Hub
	depthHub  *hub.Hub
	statusHub *hub.Hub
}

// NewServer creates a preview server for cam. Only Name, Parameters and the
// optional ID and Device methods of cam are used; frames arrive through HandleFrame.
func NewServer(cam depthcam.Camera, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:       logger.With("component", "web"),
		cameraName:   cam.Name(),
		params:       cam.Parameters(),
		DepthRangeMM: DefaultDepthRangeMM,
		colorHub:     hub.New("color", logger),
		depthHub:     hub.New("depth", logger),
		statusHub:    hub.New("status", logger),
	}
	if ider, ok := cam.(interface{ ID() string }); ok {
		s.sessionID = ider.ID()
	}
	if dev, ok := cam.(interface{ Device() depthcam.DeviceInfo }); ok {
		info := dev.Device()
		s.device = &info
	}

	app := fiber.New(fiber.Config{
		AppName:               "depthcam preview",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/parameters", s.handleParameters)
	api.Get("/status", s.handleStatus)
	api.Get("/frame/color.jpg", s.handleColorFrame)
	api.Get("/frame/depth.jpg", s.handleDepthFrame)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/color", websocket.New(func(c *websocket.Conn) { hub.Serve(s.colorHub, c) }))
	app.Get("/ws/depth", websocket.New(func(c *websocket.Conn) { hub.Serve(s.depthHub, c) }))
	app.Get("/ws/status", websocket.New(func(c *websocket.Conn) { hub.Serve(s.statusHub, c) }))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.colorHub.Run(ctx)
	go s.depthHub.Run(ctx)
	go s.statusHub.Run(ctx)

	// Shutdown is a no-op until Listener has started, so the listener is
	// closed as well.
	go func() {
		<-ctx.Done()
		s.app.Shutdown()
		ln.Close()
	}()

	s.logger.Info("preview server listening", "addr", ln.Addr().String())
	if err := s.app.Listener(ln); err != nil && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
		return err
	}
	return nil
}

// HandleFrame encodes the frame for preview and broadcasts it.
func (s *Server) HandleFrame(ctx context.Context, frame *depthcam.InputFrame) error {
	colorJPEG, err := encodeJPEG(frame.ColorMap)
	if err != nil {
		return fmt.Errorf("web: encode color: %w", err)
	}
	depthJPEG, err := s.encodeDepth(frame.DepthMap)
	if err != nil {
		return fmt.Errorf("web: encode depth: %w", err)
	}

	s.mu.Lock()
	s.colorJPEG = colorJPEG
	s.depthJPEG = depthJPEG
	s.mu.Unlock()

	s.colorHub.BroadcastBinary(colorJPEG)
	s.depthHub.BroadcastBinary(depthJPEG)
	if s.statusHub.ClientCount() > 0 {
		s.statusHub.BroadcastJSON(s.status())
	}
	return nil
}

// encodeDepth maps [0, DepthRangeMM] onto the jet colormap. A range that is
// not positive falls back to DefaultDepthRangeMM.
func (s *Server) encodeDepth(depth gocv.Mat) ([]byte, error) {
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.ConvertScaleAbs(depth, &scaled, depthAlpha(s.DepthRangeMM), 0)

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(scaled, &colored, gocv.ColormapJet)

	return encodeJPEG(colored)
}

func depthAlpha(rangeMM float64) float64 {
	if !(rangeMM > 0) || math.IsInf(rangeMM, 1) {
		rangeMM = DefaultDepthRangeMM
	}
	return 255 / rangeMM
}

func encodeJPEG(m gocv.Mat) ([]byte, error) {
	if m.Empty() {
		return nil, errors.New("empty image")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (s *Server) status() Status {
	st := Status{
		Camera:    s.cameraName,
		SessionID: s.sessionID,
		Device:    s.device,
		Clients:   s.colorHub.ClientCount() + s.depthHub.ClientCount() + s.statusHub.ClientCount(),
	}
	if s.StatsFunc != nil {
		st.Capture = s.StatsFunc()
	}
	return st
}
