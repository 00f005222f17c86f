package depthcam

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// MockRuntime is a synthetic depth device.
// It produces deterministic Z16 depth and BGR8 color frames, and like real
// hardware it reuses one buffer per stream, so frame data is overwritten by
// the next WaitForFrames.
type MockRuntime struct {
	mu         sync.Mutex
	devices    []DeviceInfo
	depthScale float32
	intrinsics Intrinsics
	startErr   error
	frameDelay time.Duration
	stall      bool
	dropColor  bool
	colorFmt   Format
	depthFunc  func(frame int64, x, y int) uint16

	pipelines  atomic.Int64
	stopped    atomic.Int64
	lastConfig PipelineConfig
	closed     bool
}

// MockOption configures a MockRuntime.
type MockOption func(*MockRuntime)

// WithDevices sets the number of connected devices.
func WithDevices(n int) MockOption {
	return func(m *MockRuntime) {
		m.devices = nil
		for i := 0; i < n; i++ {
			m.devices = append(m.devices, mockDevice(i))
		}
	}
}

// WithDepthScale sets the meters-per-unit depth scale.
func WithDepthScale(scale float32) MockOption {
	return func(m *MockRuntime) {
		m.depthScale = scale
	}
}

// WithIntrinsics sets the intrinsics reported for playback files.
// Live requests use the requested resolution.
func WithIntrinsics(in Intrinsics) MockOption {
	return func(m *MockRuntime) {
		m.intrinsics = in
	}
}

// WithStartError makes every pipeline Start fail with err.
func WithStartError(err error) MockOption {
	return func(m *MockRuntime) {
		m.startErr = err
	}
}

// WithFrameDelay makes WaitForFrames sleep before delivering each frame set.
func WithFrameDelay(d time.Duration) MockOption {
	return func(m *MockRuntime) {
		m.frameDelay = d
	}
}

// WithStall makes WaitForFrames block until its context is done.
func WithStall() MockOption {
	return func(m *MockRuntime) {
		m.stall = true
	}
}

// WithDroppedColor makes frame sets arrive without a color frame.
func WithDroppedColor() MockOption {
	return func(m *MockRuntime) {
		m.dropColor = true
	}
}

// WithColorFormat sets the negotiated color format (BGR8 by default).
func WithColorFormat(f Format) MockOption {
	return func(m *MockRuntime) {
		m.colorFmt = f
	}
}

// WithDepthPattern sets the raw depth sample for each pixel of each frame.
func WithDepthPattern(fn func(frame int64, x, y int) uint16) MockOption {
	return func(m *MockRuntime) {
		m.depthFunc = fn
	}
}

// NewMockRuntime creates a synthetic runtime with one device, a 1 mm depth
// unit and 640x480 playback intrinsics.
func NewMockRuntime(opts ...MockOption) *MockRuntime {
	m := &MockRuntime{
		devices:    []DeviceInfo{mockDevice(0)},
		depthScale: 0.001,
		intrinsics: mockIntrinsics(640, 480),
		colorFmt:   FormatBGR8,
		depthFunc: func(frame int64, x, y int) uint16 {
			return uint16(500 + (x+y+int(frame))%3500)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func mockDevice(i int) DeviceInfo {
	return DeviceInfo{
		Name:            "Mock Depth Camera",
		SerialNumber:    "MOCK" + string(rune('0'+i%10)),
		FirmwareVersion: "0.0.0",
		ProductLine:     "MOCK",
	}
}

func mockIntrinsics(w, h int) Intrinsics {
	return Intrinsics{
		Width:  w,
		Height: h,
		Fx:     float32(w) * 0.72,
		Fy:     float32(w) * 0.72,
		Ppx:    float32(w) / 2,
		Ppy:    float32(h) / 2,
	}
}

// QueryDevices returns the configured devices.
func (m *MockRuntime) QueryDevices() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("mock runtime closed")
	}
	return append([]DeviceInfo(nil), m.devices...), nil
}

// NewPipeline creates a pipeline on the mock device.
func (m *MockRuntime) NewPipeline() (Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("mock runtime closed")
	}
	m.pipelines.Add(1)
	return &mockPipeline{rt: m}, nil
}

// PipelinesCreated returns how many pipelines were created.
func (m *MockRuntime) PipelinesCreated() int64 {
	return m.pipelines.Load()
}

// PipelinesStopped returns how many times Stop was called on its pipelines.
func (m *MockRuntime) PipelinesStopped() int64 {
	return m.stopped.Load()
}

// LastConfig returns the configuration passed to the last Start.
func (m *MockRuntime) LastConfig() PipelineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConfig
}

// DepthPattern returns the raw depth sample generator.
func (m *MockRuntime) DepthPattern() func(frame int64, x, y int) uint16 {
	return m.depthFunc
}

// Close releases the runtime.
func (m *MockRuntime) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockRuntime) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockPipeline struct {
	rt *MockRuntime

	mu      sync.Mutex
	started bool
	profile ActiveProfile
	frame   int64
	depth   []byte
	color   []byte
}

func (p *mockPipeline) Start(cfg PipelineConfig) (ActiveProfile, error) {
	p.rt.mu.Lock()
	p.rt.lastConfig = cfg
	startErr := p.rt.startErr
	in := p.rt.intrinsics
	scale := p.rt.depthScale
	colorFmt := p.rt.colorFmt
	var device DeviceInfo
	if len(p.rt.devices) > 0 {
		device = p.rt.devices[0]
	}
	p.rt.mu.Unlock()

	if startErr != nil {
		return ActiveProfile{}, startErr
	}

	depthIn, colorIn, fps := in, in, 30
	for _, req := range cfg.Streams {
		switch req.Stream {
		case StreamDepth:
			if req.Format != FormatZ16 {
				return ActiveProfile{}, errors.New("mock: depth supports z16 only")
			}
			depthIn = mockIntrinsics(req.Width, req.Height)
			fps = req.FPS
		case StreamColor:
			colorIn = mockIntrinsics(req.Width, req.Height)
			colorFmt = req.Format
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = ActiveProfile{
		Device: device,
		Streams: []StreamProfileInfo{
			{Stream: StreamColor, Format: colorFmt, FPS: fps, Intrinsics: colorIn},
			{Stream: StreamDepth, Format: FormatZ16, FPS: fps, Intrinsics: depthIn},
		},
		DepthScale: scale,
	}
	p.depth = make([]byte, depthIn.Width*depthIn.Height*2)
	p.color = make([]byte, colorIn.Width*colorIn.Height*3)
	p.started = true
	return p.profile, nil
}

func (p *mockPipeline) WaitForFrames(ctx context.Context) (FrameSet, error) {
	p.rt.mu.Lock()
	delay, stall, dropColor, depthFunc := p.rt.frameDelay, p.rt.stall, p.rt.dropColor, p.rt.depthFunc
	p.rt.mu.Unlock()

	if stall {
		<-ctx.Done()
		return FrameSet{}, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return FrameSet{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return FrameSet{}, errors.New("mock: pipeline not started")
	}

	depthSP, _ := p.profile.Stream(StreamDepth)
	colorSP, _ := p.profile.Stream(StreamColor)
	n := p.frame
	p.frame++

	dw, dh := depthSP.Intrinsics.Width, depthSP.Intrinsics.Height
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			binary.LittleEndian.PutUint16(p.depth[(y*dw+x)*2:], depthFunc(n, x, y))
		}
	}

	cw, ch := colorSP.Intrinsics.Width, colorSP.Intrinsics.Height
	for i := 0; i < cw*ch; i++ {
		p.color[i*3] = byte(n)
		p.color[i*3+1] = byte(i)
		p.color[i*3+2] = 200
	}

	fs := FrameSet{
		Depth: RawFrame{Data: p.depth, Width: dw, Height: dh, Stride: dw * 2, Format: FormatZ16, Number: n},
	}
	if !dropColor {
		fs.Color = RawFrame{Data: p.color, Width: cw, Height: ch, Stride: cw * 3, Format: colorSP.Format, Number: n}
	}
	return fs, nil
}

func (p *mockPipeline) Stop() error {
	p.rt.stopped.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	return nil
}
