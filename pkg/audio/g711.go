package audio

import (
	"strings"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/zaf/g711"
)

// Encoding names a raw input encoding.
type Encoding string

const (
	EncodingPCM  Encoding = "pcm"
	EncodingWAV  Encoding = "wav"
	EncodingULaw Encoding = "ulaw"
	EncodingALaw Encoding = "alaw"
)

// ParseEncoding accepts the common spellings of each encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pcm", "s16le", "raw":
		return EncodingPCM, nil
	case "wav", "wave":
		return EncodingWAV, nil
	case "ulaw", "mulaw", "pcmu", "g711u":
		return EncodingULaw, nil
	case "alaw", "pcma", "g711a":
		return EncodingALaw, nil
	default:
		return "", errorsx.Newf(errorsx.ReasonAudioInput, "audio: unknown encoding %q", s)
	}
}

// DecodeG711 expands µ-law or A-law bytes to 16-bit PCM. PCM input is
// returned as is.
func DecodeG711(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingULaw:
		return g711.DecodeUlaw(data), nil
	case EncodingALaw:
		return g711.DecodeAlaw(data), nil
	case EncodingPCM:
		return data, nil
	default:
		return nil, errorsx.Newf(errorsx.ReasonAudioInput, "audio: %s is not a G.711 encoding", enc)
	}
}
