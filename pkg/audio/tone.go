package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Tone synthesizes 16-bit mono PCM: a half-scale sine whose level dips to
// 80% for the first half of every 100ms, which is enough for a recognizer
// to treat it as voiced input.
func Tone(freq float64, dur time.Duration, rate int) []byte {
	n := ChunkSize(rate, 16, 1, dur) / 2
	period := rate / 10
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(rate)
		v := int(32767 * 0.5 * math.Sin(2*math.Pi*freq*t))
		if period > 0 && i%period < period/2 {
			v = int(float64(v) * 0.8)
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// Silence is dur of zeroed 16-bit mono PCM.
func Silence(dur time.Duration, rate int) []byte {
	return make([]byte, ChunkSize(rate, 16, 1, dur))
}
