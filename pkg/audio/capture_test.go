package audio

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeInput struct {
	mu       sync.Mutex
	cb       func([]byte)
	closed   bool
	startErr error
}

func (f *fakeInput) Start(onSamples func([]byte)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.cb = onSamples
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// emit simulates a hardware callback. It keeps firing after Close like a
// driver that has not yet torn down its thread.
func (f *fakeInput) emit(pcm []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(pcm)
	}
}

func newFakeCapture(dev *fakeInput) *Capture {
	return NewCapture(CaptureConfig{
		Open: func(sampleRate, channels int) (InputDevice, error) {
			if sampleRate != InputSampleRate || channels != 1 {
				return nil, errors.New("unexpected format")
			}
			return dev, nil
		},
	})
}

// keepFrames copies each frame out of the capture pool before queueing it.
func keepFrames(ch chan<- Frame) func(Frame) {
	return func(f Frame) {
		ch <- Frame{Data: bytes.Clone(f.Data), MIMEType: f.MIMEType}
	}
}

func collectFrames(t *testing.T, ch <-chan Frame, n int) []Frame {
	t.Helper()
	var out []Frame
	for len(out) < n {
		select {
		case f := <-ch:
			out = append(out, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d frames, want %d", len(out), n)
		}
	}
	return out
}

func TestCapture_DeliversFramesInOrderAndStopsCleanly(t *testing.T) {
	dev := &fakeInput{}
	c := newFakeCapture(dev)
	frames := make(chan Frame, 16)
	if err := c.Start(keepFrames(frames)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.FrameBytes() != 640 {
		t.Fatalf("FrameBytes()=%d, want 640", c.FrameBytes())
	}

	for i := 1; i <= 3; i++ {
		dev.emit(constPCM(int16(i), 320))
	}
	got := collectFrames(t, frames, 3)
	for i, f := range got {
		if len(f.Data) != 640 || f.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("frame %d: len=%d mime=%q", i, len(f.Data), f.MIMEType)
		}
		if s := samplesOf(f.Data)[0]; s != int16(i+1) {
			t.Fatalf("frame %d carries sample %d, want %d", i, s, i+1)
		}
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !dev.closed {
		t.Fatalf("device not released")
	}
	dev.emit(constPCM(9, 320))
	dev.emit(constPCM(9, 320))
	select {
	case f := <-frames:
		t.Fatalf("frame delivered after Stop: %v", samplesOf(f.Data)[:1])
	case <-time.After(50 * time.Millisecond):
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if c.Active() {
		t.Fatalf("Active() after Stop")
	}
}

func TestCapture_AccumulatesPartialCallbacks(t *testing.T) {
	dev := &fakeInput{}
	c := newFakeCapture(dev)
	frames := make(chan Frame, 16)
	if err := c.Start(keepFrames(frames)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	dev.emit(make([]byte, 1000))
	dev.emit(make([]byte, 280))
	got := collectFrames(t, frames, 2)
	if len(got[0].Data) != 640 || len(got[1].Data) != 640 {
		t.Fatalf("frame sizes %d,%d", len(got[0].Data), len(got[1].Data))
	}
}

func TestCapture_DeviceUnavailable(t *testing.T) {
	t.Parallel()

	c := NewCapture(CaptureConfig{Open: func(int, int) (InputDevice, error) {
		return nil, errors.New("no microphone")
	}})
	err := c.Start(func(Frame) {})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err=%v, want ErrDeviceUnavailable", err)
	}
	var de *DeviceError
	if !errors.As(err, &de) || de.Op != "open" {
		t.Fatalf("err=%#v, want open DeviceError", err)
	}
	if c.Active() {
		t.Fatalf("Active() after failed Start")
	}

	dev := &fakeInput{startErr: errors.New("busy")}
	c = newFakeCapture(dev)
	if err := c.Start(func(Frame) {}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("start failure err=%v", err)
	}
	if !dev.closed {
		t.Fatalf("device not released after failed start")
	}
}

func TestCapture_StartTwice(t *testing.T) {
	t.Parallel()

	c := newFakeCapture(&fakeInput{})
	if err := c.Start(func(Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.Start(func(Frame) {}); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("second Start err=%v", err)
	}
}

func TestCapture_RecyclesFrameBuffers(t *testing.T) {
	t.Parallel()

	dev := &fakeInput{}
	c := NewCapture(CaptureConfig{
		Open:        func(int, int) (InputDevice, error) { return dev, nil },
		QueueFrames: 2,
	})
	frames := make(chan Frame, 1)
	if err := c.Start(keepFrames(frames)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// Many more frames than pool slots, one at a time, all arrive intact.
	for i := 1; i <= 20; i++ {
		dev.emit(constPCM(int16(i), 320))
		got := collectFrames(t, frames, 1)[0]
		for _, s := range samplesOf(got.Data) {
			if s != int16(i) {
				t.Fatalf("frame %d carries sample %d", i, s)
			}
		}
	}
}

func TestCapture_CallbackDoesNotAllocate(t *testing.T) {
	c := NewCapture(CaptureConfig{QueueFrames: 4})
	run := c.newRun(&fakeInput{})
	pcm := constPCM(3, 150) // 300 bytes, so frames span callbacks

	recycle := func() {
		for {
			buf, ok := run.ring.Pop()
			if !ok {
				return
			}
			run.free.Push(buf)
		}
	}
	allocs := testing.AllocsPerRun(200, func() {
		c.onSamples(run, pcm)
		recycle()
	})
	if allocs != 0 {
		t.Fatalf("onSamples allocated %.1f times per call", allocs)
	}
	if run.dropped.Load() != 0 {
		t.Fatalf("dropped %d frames while the pool was recycled", run.dropped.Load())
	}

	// Without recycling the pool runs dry and frames are counted as dropped.
	for i := 0; i < 40; i++ {
		c.onSamples(run, pcm)
	}
	if run.dropped.Load() == 0 {
		t.Fatal("no drops reported with an exhausted pool")
	}
	if run.ring.Len() != run.ring.Cap() {
		t.Fatalf("ring holds %d of %d frames", run.ring.Len(), run.ring.Cap())
	}
}
