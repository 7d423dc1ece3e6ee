// Package audio implements the microphone capture and speaker playback
// pipelines of a live session: fixed-size PCM16 mono frames in, gapless
// scheduled PCM16 mono out.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the rate the live endpoint expects from the microphone.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of model audio.
	OutputSampleRate = 24000

	Channels       = 1
	BytesPerSample = 2

	// DefaultFrameDuration is the capture frame size.
	DefaultFrameDuration = 20 * time.Millisecond
)

// InputMIMEType is the format descriptor sent with every captured frame.
var InputMIMEType = MIMEType(InputSampleRate)

// MIMEType returns the PCM format descriptor for a sample rate.
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// FrameBytes returns the byte size of d of mono PCM16 at sampleRate.
func FrameBytes(sampleRate int, d time.Duration) int {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if samples < 1 {
		samples = 1
	}
	return samples * BytesPerSample * Channels
}

// Frame is one captured chunk. Data is only valid for the duration of the
// frame callback; copy it to keep it.
type Frame struct {
	Data     []byte
	MIMEType string
}

// Base64 returns the wire encoding of the frame payload.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// Duration returns the audio length of the frame at sampleRate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// RMS returns the root-mean-square level of little-endian PCM16 normalised to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
