package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable reports that an audio device could not be opened or started.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrCaptureActive is returned by Start on a capture that is already running.
	ErrCaptureActive = errors.New("audio capture already started")
)

// DeviceError wraps a backend failure. It matches ErrDeviceUnavailable with errors.Is.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("audio device %s failed", e.Op)
	}
	return fmt.Sprintf("audio device %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceUnavailable
}
