package audio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-maps-live/pkg/metrics"
)

type PlaybackConfig struct {
	SampleRate int
	// QueueFrames bounds frames scheduled but not yet rendered.
	QueueFrames int
	// GainRamp is the time a gain change takes to reach its target.
	GainRamp time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Playback schedules inbound PCM16 frames back to back and renders them
// through Read, which an output device pulls from. Read never blocks; it
// renders silence when nothing is scheduled.
//
// AddFrame and Stop may be called from any goroutine; Read must only be called
// by the output device.
type Playback struct {
	sampleRate int
	rampStep   float64
	logger     *slog.Logger
	metrics    *metrics.Metrics

	queue *Ring[scheduledFrame]
	gen   atomic.Uint64

	prodMu  sync.Mutex
	nextEnd int64

	clock  atomic.Int64
	target atomic.Uint64 // float64 bits
	level  atomic.Uint64 // float64 bits
	closed atomic.Bool

	// Consumer-only state.
	cur    *scheduledFrame
	curOff int
	gain   float64

	hookMu  sync.Mutex
	onFlush func()

	dropped atomic.Uint64
}

type scheduledFrame struct {
	gen   uint64
	start int64
	pcm   []byte
}

func NewPlayback(cfg PlaybackConfig) *Playback {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = OutputSampleRate
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 1024
	}
	if cfg.GainRamp <= 0 {
		cfg.GainRamp = 50 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rampSamples := float64(cfg.SampleRate) * cfg.GainRamp.Seconds()
	if rampSamples < 1 {
		rampSamples = 1
	}
	p := &Playback{
		sampleRate: cfg.SampleRate,
		rampStep:   1 / rampSamples,
		logger:     logger.With("component", "audio_playback"),
		metrics:    cfg.Metrics,
		queue:      NewRing[scheduledFrame](cfg.QueueFrames),
		gain:       1,
	}
	p.target.Store(math.Float64bits(1))
	return p
}

// SampleRate is the output rate.
func (p *Playback) SampleRate() int { return p.sampleRate }

// schedule returns the start and end sample of a frame of n samples given the
// output clock and the end of the previously scheduled frame.
func schedule(clock, prevEnd int64, n int) (start, end int64) {
	start = max(clock, prevEnd)
	return start, start + int64(n)
}

// AddFrame takes ownership of pcm and schedules it right after the previously
// scheduled frame, or at the output clock when the queue has drained.
func (p *Playback) AddFrame(pcm []byte) {
	if p.closed.Load() {
		return
	}
	if len(pcm)%BytesPerSample != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return
	}

	p.prodMu.Lock()
	defer p.prodMu.Unlock()
	start, end := schedule(p.clock.Load(), p.nextEnd, len(pcm)/BytesPerSample)
	if !p.queue.Push(scheduledFrame{gen: p.gen.Load(), start: start, pcm: pcm}) {
		if p.dropped.Add(1) == 1 {
			p.logger.Warn("playback queue full; dropping frames", "capacity", p.queue.Cap())
		}
		return
	}
	p.nextEnd = end
	p.metrics.RecordAudio("in", len(pcm))
}

// Stop discards everything scheduled but not yet rendered and drops the meter
// to zero. Playback continues with frames added afterwards.
func (p *Playback) Stop() {
	p.prodMu.Lock()
	p.gen.Add(1)
	p.nextEnd = 0
	p.prodMu.Unlock()
	p.level.Store(0)

	p.hookMu.Lock()
	hook := p.onFlush
	p.hookMu.Unlock()
	if hook != nil {
		hook()
	}
	p.metrics.RecordPlaybackFlush()
}

// SetFlushHook registers fn to run on every Stop, after the queue is
// invalidated. Output devices use it to drop their own buffers.
func (p *Playback) SetFlushHook(fn func()) {
	p.hookMu.Lock()
	p.onFlush = fn
	p.hookMu.Unlock()
}

// SetGain sets the output gain in [0, 1]. The change is applied as a linear
// ramp over the configured ramp time.
func (p *Playback) SetGain(g float64) {
	g = math.Max(0, math.Min(1, g))
	p.target.Store(math.Float64bits(g))
}

// Gain returns the target gain.
func (p *Playback) Gain() float64 {
	return math.Float64frombits(p.target.Load())
}

// Level is the RMS of the most recently rendered buffer, in [0, 1].
func (p *Playback) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

// Pending is the scheduled audio not yet rendered.
func (p *Playback) Pending() time.Duration {
	p.prodMu.Lock()
	end := p.nextEnd
	p.prodMu.Unlock()
	ahead := end - p.clock.Load()
	if ahead <= 0 {
		return 0
	}
	return time.Duration(ahead) * time.Second / time.Duration(p.sampleRate)
}

// Close makes Read report io.EOF and ignores further frames.
func (p *Playback) Close() error {
	p.closed.Store(true)
	return nil
}

// Read renders little-endian PCM16 into b and advances the output clock.
func (p *Playback) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.EOF
	}
	gen := p.gen.Load()
	samples := len(b) / BytesPerSample
	clock := p.clock.Load()
	target := math.Float64frombits(p.target.Load())

	var sum float64
	for i := 0; i < samples; i++ {
		pos := clock + int64(i)
		var s float64
		if f := p.current(); f != nil && f.start <= pos {
			s = float64(int16(binary.LittleEndian.Uint16(f.pcm[p.curOff:]))) / 32768
			p.curOff += BytesPerSample
			if p.curOff >= len(f.pcm) {
				p.cur, p.curOff = nil, 0
			}
		}
		p.stepGain(target)
		s *= p.gain
		sum += s * s
		binary.LittleEndian.PutUint16(b[i*2:], uint16(toSample(s)))
	}
	if len(b)%BytesPerSample != 0 {
		b[len(b)-1] = 0
	}
	p.clock.Add(int64(samples))

	if samples > 0 && p.gen.Load() == gen {
		p.level.Store(math.Float64bits(math.Sqrt(sum / float64(samples))))
	}
	return len(b), nil
}

// current returns the frame being rendered, pulling the next live one from the
// queue and discarding frames invalidated by Stop.
func (p *Playback) current() *scheduledFrame {
	gen := p.gen.Load()
	if p.cur != nil && p.cur.gen == gen {
		return p.cur
	}
	p.cur, p.curOff = nil, 0
	for {
		f, ok := p.queue.Pop()
		if !ok {
			return nil
		}
		if f.gen != gen {
			continue
		}
		p.cur = &f
		return p.cur
	}
}

func (p *Playback) stepGain(target float64) {
	switch {
	case p.gain < target:
		p.gain = math.Min(target, p.gain+p.rampStep)
	case p.gain > target:
		p.gain = math.Max(target, p.gain-p.rampStep)
	}
}

func toSample(s float64) int16 {
	v := math.Round(s * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
