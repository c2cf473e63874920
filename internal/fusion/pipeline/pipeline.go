package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/banshee-data/depthfusion/internal/config"
	"github.com/banshee-data/depthfusion/internal/fusion/scheduler"
	"github.com/banshee-data/depthfusion/internal/fusion/tracking"
	"github.com/banshee-data/depthfusion/internal/fusion/transform"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
	"github.com/banshee-data/depthfusion/internal/timeutil"
)

// ErrClosed is returned by SubmitFrame after Close.
var ErrClosed = errors.New("pipeline: closed")

// Presenter receives the shaded surface after every completed pass.
// Present is called on the processing goroutine and must not block.
type Presenter interface {
	Present(img *volume.ShadedImage)
}

// Recorder receives a summary of every completed pass. Like Present,
// RecordPass runs on the processing goroutine and must not block.
type Recorder interface {
	RecordPass(r PassRecord)
}

// KeyFrameClearer is implemented by key-frame databases that can be
// emptied when the volume is reset.
type KeyFrameClearer interface {
	Clear()
}

const defaultHistorySize = 600

// Options configures a Pipeline.
type Options struct {
	// Engine is required.
	Engine volume.Engine
	// KeyFrames enables relocalization and key-frame maintenance. Nil
	// disables both.
	KeyFrames volume.PoseDatabase
	Presenter Presenter // Optional
	Recorder  Recorder  // Optional
	// Config defaults to the built-in defaults when nil.
	Config *config.FusionConfig
	// Clock defaults to the wall clock.
	Clock timeutil.Clock
	// HistorySize bounds the in-memory pass history. Zero means 600.
	HistorySize int
}

// Pipeline is the fusion loop. Frames are submitted from any goroutine;
// processing happens on the goroutine launched by Start.
type Pipeline struct {
	engine    volume.Engine
	keyFrames volume.PoseDatabase
	presenter Presenter
	recorder  Recorder
	clock     timeutil.Clock

	tracker    *tracking.Tracker
	maintainer *tracking.KeyFrameMaintainer
	params     tracking.Params

	factor       int
	weight       int
	autoReset    bool
	maxFailures  int
	relocCapable bool

	sched *scheduler.Scheduler
	inbox scheduler.Mailbox[*volume.Frame]

	// Owned by the processing goroutine.
	state tracking.State

	resetRequested atomic.Bool
	closed         atomic.Bool

	status   atomic.Pointer[Status]
	image    atomic.Pointer[volume.ShadedImage]
	residual atomic.Pointer[volume.DeltaFrame]
	history  *history

	passes    atomic.Uint64
	errs      atomic.Uint64
	resets    atomic.Uint64
	submitted atomic.Uint64
}

// isNilInterface reports whether i is nil or wraps a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// New checks the engine's device, resets the volume at the origin and
// returns a pipeline ready to Start. A missing device is reported as
// volume.ErrDeviceUnavailable.
func New(ctx context.Context, opts Options) (*Pipeline, error) {
	if isNilInterface(opts.Engine) {
		return nil, errors.New("pipeline: engine is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyFusionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if dc, ok := opts.Engine.(volume.DeviceChecker); ok {
		if err := dc.CheckDevice(ctx); err != nil {
			if errors.Is(err, volume.ErrDeviceUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", volume.ErrDeviceUnavailable, err)
		}
	}
	if err := opts.Engine.ResetVolume(ctx, transform.Identity()); err != nil {
		return nil, fmt.Errorf("initial volume reset: %w", err)
	}

	p := &Pipeline{
		engine:      opts.Engine,
		presenter:   opts.Presenter,
		recorder:    opts.Recorder,
		clock:       opts.Clock,
		params:      tracking.ParamsFromConfig(cfg),
		factor:      cfg.GetDownsampleFactor(),
		weight:      cfg.GetIntegrationWeight(),
		autoReset:   cfg.GetAutoResetWhenLost(),
		maxFailures: cfg.GetMaxTrackingErrors(),
		state:       tracking.NewState(transform.Identity()),
	}
	if isNilInterface(opts.Presenter) {
		p.presenter = nil
	}
	if isNilInterface(opts.Recorder) {
		p.recorder = nil
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	if !isNilInterface(opts.KeyFrames) {
		p.keyFrames = opts.KeyFrames
	}
	p.tracker = tracking.NewTracker(p.engine, p.keyFrames, p.params)
	p.maintainer = tracking.NewKeyFrameMaintainer(p.keyFrames, p.params)
	p.relocCapable = p.tracker.RelocCapable()

	size := opts.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	p.history = newHistory(size)
	p.sched = scheduler.New(p.process)
	p.publishStatus(nil)

	opsf("pipeline ready: downsample=%d reloc=%v auto_reset=%v", p.factor, p.relocCapable, p.autoReset)
	return p, nil
}

// Start launches the processing goroutine. It stops when ctx is cancelled
// or Close is called.
func (p *Pipeline) Start(ctx context.Context) {
	p.sched.Start(ctx)
}

// SubmitFrame publishes the latest frame and wakes the processing loop.
// A frame not yet processed is replaced and counted as dropped.
func (p *Pipeline) SubmitFrame(f *volume.Frame) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Depth.Width%p.factor != 0 || f.Depth.Height%p.factor != 0 {
		return fmt.Errorf("depth %dx%d not divisible by downsample factor %d",
			f.Depth.Width, f.Depth.Height, p.factor)
	}
	p.submitted.Add(1)
	if p.inbox.Put(f) {
		tracef("frame %d replaced an unprocessed frame", f.Depth.Sequence)
	}
	p.sched.Notify()
	return nil
}

// Reset asks the processing goroutine to clear the volume and restart
// tracking from the origin before the next frame.
func (p *Pipeline) Reset() {
	p.resetRequested.Store(true)
	p.sched.Notify()
}

// Close stops the processing loop, waits for a running pass to finish and
// publishes a final status covering every submitted frame.
func (p *Pipeline) Close() {
	p.closed.Store(true)
	p.sched.Close()
	p.publishStatus(nil)
	diagf("pipeline closed after %d passes (%d errors, %d dropped)",
		p.passes.Load(), p.errs.Load(), p.inbox.Dropped())
}

// Status returns the latest published status snapshot.
func (p *Pipeline) Status() *Status { return p.status.Load() }

// LatestImage returns the most recent shaded surface, or nil.
func (p *Pipeline) LatestImage() *volume.ShadedImage { return p.image.Load() }

// LatestResidual returns the most recent alignment residual upsampled to
// depth resolution, or nil.
func (p *Pipeline) LatestResidual() *volume.DeltaFrame { return p.residual.Load() }

// History returns recent pass records, oldest first.
func (p *Pipeline) History() []PassRecord { return p.history.snapshot() }

// RelocCapable reports whether a key-frame database is configured.
func (p *Pipeline) RelocCapable() bool { return p.relocCapable }
