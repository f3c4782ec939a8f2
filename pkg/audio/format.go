// Package audio prepares PCM input for a recognition session: chunking,
// test signals, G.711 and WAV decoding, and WAV recording.
package audio

import (
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// Speech is what the recognition service expects: 16 kHz, 16-bit, mono.
var Speech = Format{SampleRate: 16000, BitDepth: 16, Channels: 1}

// BytesPerSecond is zero for an incomplete format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BitDepth / 8 * f.Channels
}

// Duration of pcm in this format.
func (f Format) Duration(pcm []byte) time.Duration {
	return f.durationOf(len(pcm))
}

func (f Format) durationOf(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// ChunkSize returns the bytes covering dur, rounded down to whole frames.
// 16 kHz 16-bit mono gives 6400 bytes for 200ms and 3200 for 100ms.
func ChunkSize(rate, bits, channels int, dur time.Duration) int {
	frame := bits / 8 * channels
	if frame <= 0 || rate <= 0 || dur <= 0 {
		return 0
	}
	frames := int(int64(rate) * int64(dur) / int64(time.Second))
	return frames * frame
}

func validate(f Format) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return errorsx.Newf(errorsx.ReasonAudioInput, "audio: invalid format %+v", f)
	}
	if f.BitDepth != 8 && f.BitDepth != 16 && f.BitDepth != 24 && f.BitDepth != 32 {
		return errorsx.Newf(errorsx.ReasonAudioInput, "audio: unsupported bit depth %d", f.BitDepth)
	}
	return nil
}
