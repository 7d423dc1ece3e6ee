package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// InputDevice is an opened microphone. Start registers the callback invoked on
// the audio thread with raw PCM16 samples; the slice is only valid for the
// duration of the call. Close stops the device and releases it.
type InputDevice interface {
	Start(onSamples func(pcm []byte)) error
	Close() error
}

// InputOpener opens the default input device for mono PCM16 at sampleRate.
type InputOpener func(sampleRate, channels int) (InputDevice, error)

type CaptureConfig struct {
	Open          InputOpener
	SampleRate    int
	FrameDuration time.Duration
	// QueueFrames bounds the hand-off between the audio thread and delivery.
	QueueFrames int
	Logger      *slog.Logger
}

// Capture turns device callbacks into fixed-size frames delivered on a
// dedicated goroutine. Each Start begins a new frame sequence; Stop ends it.
// Frame buffers come from a fixed pool: the audio callback fills them and the
// delivery goroutine hands them back once the frame callback returns.
type Capture struct {
	cfg        CaptureConfig
	frameBytes int
	mimeType   string
	logger     *slog.Logger

	mu  sync.Mutex
	run *captureRun
}

type captureRun struct {
	device  InputDevice
	ring    *Ring[[]byte] // filled frames, audio callback -> pump
	free    *Ring[[]byte] // empty frames, pump -> audio callback
	notify  chan struct{}
	quit    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	dropped atomic.Uint64

	// cur and fill are only touched by the audio callback.
	cur  []byte
	fill int
}

// newRun preallocates one frame buffer per ring slot, so a filled frame always
// has room in the ring.
func (c *Capture) newRun(device InputDevice) *captureRun {
	run := &captureRun{
		device: device,
		ring:   NewRing[[]byte](c.cfg.QueueFrames),
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	run.free = NewRing[[]byte](run.ring.Cap())
	backing := make([]byte, run.ring.Cap()*c.frameBytes)
	for i := 0; i < run.ring.Cap(); i++ {
		run.free.Push(backing[i*c.frameBytes : (i+1)*c.frameBytes : (i+1)*c.frameBytes])
	}
	return run
}

func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = InputSampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		cfg:        cfg,
		frameBytes: FrameBytes(cfg.SampleRate, cfg.FrameDuration),
		mimeType:   MIMEType(cfg.SampleRate),
		logger:     logger.With("component", "audio_capture"),
	}
}

// FrameBytes is the size of every delivered frame.
func (c *Capture) FrameBytes() int { return c.frameBytes }

// Active reports whether capture is running.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Start opens the input device and delivers frames to onFrame until Stop.
// Device failures are returned as *DeviceError and are not retried. onFrame
// runs on the capture goroutine, must not call Stop and must not keep f.Data
// after it returns.
func (c *Capture) Start(onFrame func(Frame)) error {
	if onFrame == nil {
		return fmt.Errorf("audio capture: nil frame callback")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return ErrCaptureActive
	}
	if c.cfg.Open == nil {
		return &DeviceError{Op: "open", Err: fmt.Errorf("%w: no input backend", ErrDeviceUnavailable)}
	}

	device, err := c.cfg.Open(c.cfg.SampleRate, Channels)
	if err != nil {
		c.logger.Error("opening input device failed", "error", err)
		return asDeviceError("open", err)
	}

	run := c.newRun(device)
	go c.pump(run, onFrame)

	if err := device.Start(func(pcm []byte) { c.onSamples(run, pcm) }); err != nil {
		run.stopped.Store(true)
		close(run.quit)
		<-run.done
		_ = device.Close()
		c.logger.Error("starting input device failed", "error", err)
		return asDeviceError("start", err)
	}

	c.run = run
	c.logger.Info("audio capture started", "sample_rate", c.cfg.SampleRate, "frame_bytes", c.frameBytes)
	return nil
}

// Stop halts capture and releases the device. Stopping a stopped capture is a
// no-op. No frame is delivered after Stop returns.
func (c *Capture) Stop() error {
	c.mu.Lock()
	run := c.run
	c.run = nil
	c.mu.Unlock()
	if run == nil {
		return nil
	}

	run.stopped.Store(true)
	err := run.device.Close()
	close(run.quit)
	<-run.done

	if dropped := run.dropped.Load(); dropped > 0 {
		c.logger.Warn("capture frames dropped: delivery fell behind", "dropped", dropped)
	}
	c.logger.Info("audio capture stopped")
	if err != nil {
		return &DeviceError{Op: "close", Err: err}
	}
	return nil
}

// onSamples runs on the audio thread. It never blocks or allocates.
func (c *Capture) onSamples(run *captureRun, pcm []byte) {
	if run.stopped.Load() || len(pcm) == 0 {
		return
	}
	pushed := false
	for len(pcm) > 0 {
		if run.cur == nil {
			buf, ok := run.free.Pop()
			if !ok {
				// Every buffer is queued or in delivery: drop the rest of this callback.
				run.dropped.Add(uint64((len(pcm) + c.frameBytes - 1) / c.frameBytes))
				break
			}
			run.cur, run.fill = buf, 0
		}
		n := copy(run.cur[run.fill:], pcm)
		run.fill += n
		pcm = pcm[n:]
		if run.fill < len(run.cur) {
			continue
		}
		if !run.ring.Push(run.cur) {
			run.dropped.Add(1)
			run.fill = 0
			continue
		}
		run.cur = nil
		pushed = true
	}
	if pushed {
		select {
		case run.notify <- struct{}{}:
		default:
		}
	}
}

func (c *Capture) pump(run *captureRun, onFrame func(Frame)) {
	defer close(run.done)
	for {
		select {
		case <-run.quit:
			return
		case <-run.notify:
		}
		for !run.stopped.Load() {
			data, ok := run.ring.Pop()
			if !ok {
				break
			}
			onFrame(Frame{Data: data, MIMEType: c.mimeType})
			run.free.Push(data)
		}
	}
}

func asDeviceError(op string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	return &DeviceError{Op: op, Err: err}
}
