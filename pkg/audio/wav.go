package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes a PCM WAV file into 16-bit little-endian samples. The
// returned format keeps the file's rate and channel count.
func ReadWAV(r io.ReadSeeker) ([]byte, Format, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, Format{}, errorsx.Newf(errorsx.ReasonAudioInput, "audio: not a valid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, errorsx.Wrap(fmt.Errorf("audio: decode wav: %w", err), errorsx.ReasonAudioInput)
	}
	src := Format{SampleRate: int(d.SampleRate), BitDepth: int(d.BitDepth), Channels: int(d.NumChans)}
	if err := validate(src); err != nil {
		return nil, Format{}, err
	}

	out := make([]byte, 2*len(buf.Data))
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(to16(v, src.BitDepth)))
	}
	return out, Format{SampleRate: src.SampleRate, BitDepth: 16, Channels: src.Channels}, nil
}

func to16(v, bits int) int16 {
	switch bits {
	case 8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}

// ToSpeech converts 16-bit PCM in format f to 16 kHz mono.
func ToSpeech(pcm []byte, f Format) ([]byte, error) {
	if f.BitDepth != 16 {
		return nil, errorsx.Newf(errorsx.ReasonAudioInput, "audio: expected 16-bit pcm, got %d", f.BitDepth)
	}
	if err := validate(f); err != nil {
		return nil, err
	}
	mono := Mono(pcm, f.Channels)
	return Resample(mono, f.SampleRate, Speech.SampleRate), nil
}

// Mono averages interleaved 16-bit channels.
func Mono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frame := 2 * channels
	n := len(pcm) / frame
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[i*frame+2*c:])))
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(sum/channels)))
	}
	return out
}

// Resample converts 16-bit mono PCM between rates by linear interpolation.
func Resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	in := len(pcm) / 2
	if in == 0 {
		return nil
	}
	sample := func(i int) float64 {
		if i >= in {
			i = in - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	n := int(int64(in) * int64(to) / int64(from))
	out := make([]byte, 2*n)
	step := float64(from) / float64(to)
	for j := 0; j < n; j++ {
		pos := float64(j) * step
		i := int(pos)
		frac := pos - float64(i)
		v := sample(i)*(1-frac) + sample(i+1)*frac
		binary.LittleEndian.PutUint16(out[2*j:], uint16(int16(v)))
	}
	return out
}

// Recorder writes 16-bit PCM to a WAV file as it streams past. Write and
// Close may be called from different goroutines; writes after Close fail.
type Recorder struct {
	mu     sync.Mutex
	enc    *wav.Encoder
	format Format
	bytes  int
	closed bool
}

// NewRecorder starts a WAV stream on w. The header is finalized by Close.
func NewRecorder(w io.WriteSeeker, f Format) *Recorder {
	return &Recorder{
		enc:    wav.NewEncoder(w, f.SampleRate, 16, f.Channels, 1),
		format: f,
	}
}

// Write appends 16-bit little-endian samples. A trailing odd byte is
// dropped.
func (r *Recorder) Write(pcm []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errorsx.Newf(errorsx.ReasonAudioInput, "audio: record: recorder closed")
	}
	n := len(pcm) / 2
	if n == 0 {
		return len(pcm), nil
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: r.format.Channels, SampleRate: r.format.SampleRate},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	if err := r.enc.Write(buf); err != nil {
		return 0, errorsx.Wrap(fmt.Errorf("audio: record: %w", err), errorsx.ReasonAudioInput)
	}
	r.bytes += 2 * n
	return len(pcm), nil
}

// Duration recorded so far.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.durationOf(r.bytes)
}

// Close finalizes the WAV header. Only the first call does any work.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.enc.Close()
}
