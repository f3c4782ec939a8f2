package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bytedance/sonic"
)

// Frame is an outbound frame before encoding.
type Frame struct {
	Header
	// Sequence is written only when Flags has FlagSequence.
	Sequence int32
	// ErrorCode is used only by ErrorResponse frames.
	ErrorCode uint32
	// Payload is the uncompressed body. For ErrorResponse frames it is the
	// UTF-8 error message.
	Payload []byte
}

// Marshal encodes f into its wire form. The payload is gzip-compressed when
// the header declares CompressionGzip; the header itself never is.
func Marshal(f Frame) []byte {
	hdr := f.Header.Encode()

	if f.Type == ErrorResponse {
		buf := make([]byte, 0, HeaderSize+codeFieldLen+sizeFieldLen+len(f.Payload))
		buf = append(buf, hdr[:]...)
		buf = binary.BigEndian.AppendUint32(buf, f.ErrorCode)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
		return append(buf, f.Payload...)
	}

	payload := f.Payload
	if f.Compression == CompressionGzip {
		payload = gzipBytes(payload)
	}

	n := HeaderSize + sizeFieldLen + len(payload)
	if f.Flags.Has(FlagSequence) {
		n += seqFieldLen
	}
	buf := make([]byte, 0, n)
	buf = append(buf, hdr[:]...)
	if f.Flags.Has(FlagSequence) {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Sequence))
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

// EncodeFullClientRequest frames the session-initialization request as
// gzip-compressed JSON.
func EncodeFullClientRequest(req SessionRequest) ([]byte, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal session request: %w", err)
	}
	return Marshal(Frame{
		Header:  NewHeader(FullClientRequest, FlagNone, SerializationJSON, CompressionGzip),
		Payload: body,
	}), nil
}

// EncodeAudio frames one chunk of raw PCM. final marks the last chunk of the
// session and sets FlagFinal only.
func EncodeAudio(chunk []byte, final bool) []byte {
	flags := FlagNone
	if final {
		flags = FlagFinal
	}
	return Marshal(Frame{
		Header:  NewHeader(AudioOnlyRequest, flags, SerializationNone, CompressionGzip),
		Payload: chunk,
	})
}

// Unmarshal is the inverse of Marshal for any message type. It is what a
// server reads client frames with; clients use Decode.
func Unmarshal(data []byte) (Frame, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Header: h}
	if h.Type == ErrorResponse {
		if len(data) < HeaderSize+codeFieldLen+sizeFieldLen {
			return Frame{}, malformed("error frame too short: %d bytes", len(data))
		}
		f.ErrorCode = binary.BigEndian.Uint32(data[HeaderSize:])
		msg, err := readSized(data, HeaderSize+codeFieldLen)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = append([]byte(nil), msg...)
		return f, nil
	}
	f.Sequence, _, f.Payload, err = readBody(h, data)
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}
