package audio

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Speaker plays a Playback through the default output device.
type Speaker struct {
	ctx    *oto.Context
	player *oto.Player
}

// OpenSpeaker creates the output context and starts pulling from p. bufferSize
// is the device-side latency; smaller is more responsive to flushes but more
// prone to underruns. Only one Speaker may exist per process.
func OpenSpeaker(p *Playback, bufferSize time.Duration) (*Speaker, error) {
	if bufferSize <= 0 {
		bufferSize = 100 * time.Millisecond
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   p.SampleRate(),
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, &DeviceError{Op: "open output", Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}
	<-ready

	s := &Speaker{ctx: ctx, player: ctx.NewPlayer(p)}
	p.SetFlushHook(s.Flush)
	s.player.Play()
	return s, nil
}

// Flush drops audio already handed to the device.
func (s *Speaker) Flush() {
	if s == nil || s.player == nil {
		return
	}
	s.player.Reset()
	s.player.Play()
}

func (s *Speaker) Close() error {
	if s == nil || s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	return err
}
