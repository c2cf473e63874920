package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthfusion/internal/config"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
	"github.com/banshee-data/depthfusion/internal/timeutil"
)

// FrameSink receives captured frames.
type FrameSink interface {
	SubmitFrame(f *volume.Frame) error
}

// SensorConfig describes the simulated camera.
type SensorConfig struct {
	DepthWidth  int
	DepthHeight int
	// ColorWidth of zero disables the colour stream.
	ColorWidth  int
	ColorHeight int
	Interval    time.Duration
	Room        Room
	Trajectory  Trajectory
	Clock       timeutil.Clock
}

// SensorConfigFromFusion builds a sensor config from the fusion config's
// sensor section, with the default room and orbit.
func SensorConfigFromFusion(c *config.FusionConfig) SensorConfig {
	return SensorConfig{
		DepthWidth:  c.GetSensorWidth(),
		DepthHeight: c.GetSensorHeight(),
		ColorWidth:  c.GetColorWidth(),
		ColorHeight: c.GetColorHeight(),
		Interval:    c.GetSensorFrameInterval(),
		Room:        DefaultRoom(),
		Trajectory:  DefaultOrbit(),
	}
}

// Sensor renders frames from a trajectory on a fixed interval and hands
// them to a sink. The sensor owns its capture goroutine; Close stops it.
type Sensor struct {
	cfg  SensorConfig
	sink FrameSink

	seq      atomic.Uint64
	rejected atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewSensor validates cfg and returns an idle sensor.
func NewSensor(cfg SensorConfig, sink FrameSink) (*Sensor, error) {
	if cfg.DepthWidth <= 0 || cfg.DepthHeight <= 0 {
		return nil, fmt.Errorf("sim: invalid depth size %dx%d", cfg.DepthWidth, cfg.DepthHeight)
	}
	if cfg.ColorWidth < 0 || cfg.ColorHeight < 0 || (cfg.ColorWidth == 0) != (cfg.ColorHeight == 0) {
		return nil, fmt.Errorf("sim: invalid colour size %dx%d", cfg.ColorWidth, cfg.ColorHeight)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sim: frame interval must be positive")
	}
	if cfg.Trajectory == nil {
		cfg.Trajectory = DefaultOrbit()
	}
	if cfg.Room.HalfExtents == [3]float64{} {
		cfg.Room = DefaultRoom()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Sensor{cfg: cfg, sink: sink}, nil
}

// Capture renders the frame for seq.
func (s *Sensor) Capture(seq uint64) *volume.Frame {
	pose := s.cfg.Trajectory.PoseAt(seq)
	w, h := s.cfg.DepthWidth, s.cfg.DepthHeight
	in := IntrinsicsFor(w, h)

	depth := &volume.DepthFrame{
		Width:     w,
		Height:    h,
		Pixels:    make([]uint16, w*h),
		Sequence:  seq,
		Timestamp: s.cfg.Clock.Now(),
	}
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			hit, ok := s.cfg.Room.Cast(pose, in, float64(u)+0.5, float64(v)+0.5)
			if !ok {
				continue
			}
			mm := hit.Depth * 1000
			if mm > 65535 {
				mm = 0
			}
			// The sensor delivers mirrored rows.
			depth.Pixels[v*w+(w-1-u)] = uint16(mm)
		}
	}
	f := &volume.Frame{Depth: depth}

	if s.cfg.ColorWidth > 0 {
		cw, ch := s.cfg.ColorWidth, s.cfg.ColorHeight
		cin := IntrinsicsFor(cw, ch)
		color := &volume.ColorFrame{Width: cw, Height: ch, Pixels: make([]uint32, cw*ch)}
		for v := 0; v < ch; v++ {
			for u := 0; u < cw; u++ {
				hit, ok := s.cfg.Room.Cast(pose, cin, float64(u)+0.5, float64(v)+0.5)
				if !ok {
					continue
				}
				color.Pixels[v*cw+(cw-1-u)] = s.cfg.Room.Colour(hit)
			}
		}
		f.Color = color
	}
	return f
}

// Start begins capturing. Calling Start on a running sensor is an error.
func (s *Sensor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("sim: sensor already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.started = true
	go s.run(ctx, s.cfg.Clock.NewTicker(s.cfg.Interval))
	return nil
}

func (s *Sensor) run(ctx context.Context, ticker timeutil.Ticker) {
	defer close(s.done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			seq := s.seq.Add(1)
			if err := s.sink.SubmitFrame(s.Capture(seq)); err != nil {
				s.rejected.Add(1)
				opsf("frame %d rejected: %v", seq, err)
			}
		}
	}
}

// Close stops capturing and waits for the capture goroutine to exit.
func (s *Sensor) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.mu.Unlock()
	<-done
}

// Captured returns the number of frames produced.
func (s *Sensor) Captured() uint64 { return s.seq.Load() }

// Rejected returns the number of frames the sink refused.
func (s *Sensor) Rejected() uint64 { return s.rejected.Load() }
