package web

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-depthcam/pkg/capture"
	"github.com/teslashibe/go-depthcam/pkg/depthcam"
)

func newTestCamera(t *testing.T) *depthcam.LiveDepthCamera {
	t.Helper()
	cam, err := depthcam.NewLiveDepthCamera(depthcam.NewMockRuntime(), depthcam.LiveOptions{
		Name:   "mock",
		Stream: depthcam.StreamProfile{Width: 32, Height: 24, FPS: 30},
	}, nil)
	if err != nil {
		t.Fatalf("NewLiveDepthCamera failed: %v", err)
	}
	t.Cleanup(func() { cam.Close() })
	return cam
}

func grab(t *testing.T, cam depthcam.Camera) depthcam.InputFrame {
	t.Helper()
	frame, err := cam.GrabFrame(context.Background())
	if err != nil {
		t.Fatalf("GrabFrame failed: %v", err)
	}
	return frame
}

func TestHandleParameters(t *testing.T) {
	cam := newTestCamera(t)
	s := NewServer(cam, nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/parameters", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	var got depthcam.CameraParameters
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != cam.Parameters() {
		t.Errorf("got %+v, want %+v", got, cam.Parameters())
	}
}

func TestHandleStatus(t *testing.T) {
	cam := newTestCamera(t)
	s := NewServer(cam, nil)
	s.StatsFunc = func() capture.Stats { return capture.Stats{Frames: 7, Running: true} }

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}

	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Camera != "mock" || got.SessionID != cam.ID() || got.Capture.Frames != 7 {
		t.Errorf("unexpected status %+v", got)
	}
	if got.Device == nil || *got.Device != cam.Device() {
		t.Errorf("device = %+v, want %+v", got.Device, cam.Device())
	}
}

func TestDepthAlpha(t *testing.T) {
	def := 255.0 / DefaultDepthRangeMM
	tests := []struct {
		name    string
		rangeMM float64
		want    float64
	}{
		{"configured", 2000, 255.0 / 2000},
		{"zero", 0, def},
		{"negative", -500, def},
		{"nan", math.NaN(), def},
		{"inf", math.Inf(1), def},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := depthAlpha(tc.rangeMM); got != tc.want {
				t.Errorf("depthAlpha(%v) = %v, want %v", tc.rangeMM, got, tc.want)
			}
		})
	}
}

func TestHandleFrame_ZeroDepthRange(t *testing.T) {
	cam := newTestCamera(t)
	s := NewServer(cam, nil)
	s.DepthRangeMM = 0

	frame := grab(t, cam)
	defer frame.Close()
	if err := s.HandleFrame(context.Background(), &frame); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/frame/depth.jpg", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status %d, want 200", resp.StatusCode)
	}
}

func TestServe_CancelledBeforeListen(t *testing.T) {
	cam := newTestCamera(t)
	s := NewServer(cam, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the context was cancelled")
	}
}

func TestFrameEndpoints(t *testing.T) {
	cam := newTestCamera(t)
	s := NewServer(cam, nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/frame/color.jpg", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("status before first frame %d, want 503", resp.StatusCode)
	}

	frame := grab(t, cam)
	defer frame.Close()
	if err := s.HandleFrame(context.Background(), &frame); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	for _, path := range []string{"/api/frame/color.jpg", "/api/frame/depth.jpg"} {
		resp, err := s.App().Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("%s: request error: %v", path, err)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("%s: status %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("%s: content type %q", path, ct)
		}
		body, _ := io.ReadAll(resp.Body)
		if len(body) < 2 || body[0] != 0xff || body[1] != 0xd8 {
			t.Errorf("%s: body is not a JPEG", path)
		}
	}
}

func TestWebsocketColorStream(t *testing.T) {
	cam := newTestCamera(t)
	s := NewServer(cam, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, ln)

	var ws *websocket.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		ws, _, err = websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/color", nil)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("WebSocket dial error: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer ws.Close()

	// Publish until the client has registered and received a frame.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(20 * time.Millisecond):
			}
			frame, err := cam.GrabFrame(context.Background())
			if err != nil {
				return
			}
			s.HandleFrame(context.Background(), &frame)
			frame.Close()
		}
	}()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type %d, want binary", msgType)
	}
	if len(data) < 2 || data[0] != 0xff || data[1] != 0xd8 {
		t.Error("message is not a JPEG")
	}
}
