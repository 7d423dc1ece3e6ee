package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoInput opens microphones through miniaudio.
type MalgoInput struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger

	// PeriodMillis is the device callback period.
	PeriodMillis uint32
}

// NewMalgoInput initialises the miniaudio context with realtime thread priority.
func NewMalgoInput(logger *slog.Logger) (*MalgoInput, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, &DeviceError{Op: "init", Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}
	return &MalgoInput{ctx: ctx, logger: logger, PeriodMillis: 20}, nil
}

// Open satisfies InputOpener.
func (m *MalgoInput) Open(sampleRate, channels int) (InputDevice, error) {
	if m == nil || m.ctx == nil {
		return nil, &DeviceError{Op: "open", Err: ErrDeviceUnavailable}
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = m.PeriodMillis
	return &malgoDevice{ctx: m.ctx.Context, cfg: cfg}, nil
}

// Close releases the miniaudio context.
func (m *MalgoInput) Close() error {
	if m == nil || m.ctx == nil {
		return nil
	}
	if err := m.ctx.Uninit(); err != nil {
		return err
	}
	m.ctx.Free()
	m.ctx = nil
	return nil
}

type malgoDevice struct {
	ctx malgo.Context
	cfg malgo.DeviceConfig

	mu     sync.Mutex
	device *malgo.Device
}

func (d *malgoDevice) Start(onSamples func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		return ErrCaptureActive
	}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onSamples(input)
		},
	}
	device, err := malgo.InitDevice(d.ctx, d.cfg, callbacks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	d.device = device
	return nil
}

func (d *malgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil
	}
	err := d.device.Stop()
	d.device.Uninit()
	d.device = nil
	return err
}
