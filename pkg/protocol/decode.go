package protocol

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/bytedance/sonic"
)

// Message is one decoded inbound frame.
type Message struct {
	Header
	Sequence    int32
	HasSequence bool
	// Payload is the decompressed body of a FullServerResponse.
	Payload  []byte
	Response *Response
}

// Ignored reports whether the frame carries nothing actionable: any message
// type other than FullServerResponse.
func (m *Message) Ignored() bool { return m.Type != FullServerResponse }

// Final reports whether the service flagged this as its last response.
func (m *Message) Final() bool { return m.Flags.Has(FlagFinal) }

// Decode parses exactly one received frame. ErrorResponse frames are returned
// as a *RemoteError; local failures match ErrMalformedFrame. Decode keeps no
// state between calls.
func Decode(data []byte) (*Message, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case ErrorResponse:
		return nil, decodeError(data)
	case FullServerResponse:
		return decodeResponse(h, data)
	default:
		return &Message{Header: h}, nil
	}
}

func decodeError(data []byte) error {
	const msgOffset = HeaderSize + codeFieldLen + sizeFieldLen
	if len(data) < msgOffset {
		return malformed("error frame too short: %d bytes", len(data))
	}
	code := binary.BigEndian.Uint32(data[HeaderSize:])
	size := binary.BigEndian.Uint32(data[HeaderSize+codeFieldLen:])
	body := data[msgOffset:]
	if uint64(size) < uint64(len(body)) {
		body = body[:size]
	}
	return errorsx.Wrap(&RemoteError{
		Code:    code,
		Message: strings.ToValidUTF8(string(body), "\uFFFD"),
	}, errorsx.ReasonRemoteError)
}

func decodeResponse(h Header, data []byte) (*Message, error) {
	msg := &Message{Header: h}
	var (
		payload []byte
		err     error
	)
	msg.Sequence, msg.HasSequence, payload, err = readBody(h, data)
	if err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return nil, malformed("empty payload")
	}
	if !utf8.Valid(payload) {
		return nil, malformed("payload is not valid UTF-8")
	}
	var resp Response
	if err := sonic.Unmarshal(payload, &resp); err != nil {
		return nil, malformed("parse payload: %v", err)
	}
	msg.Payload = payload
	msg.Response = &resp
	return msg, nil
}

// readBody parses what follows the header of a non-error frame: the
// optional sequence number, the size field and the payload, decompressed.
func readBody(h Header, data []byte) (seq int32, hasSeq bool, payload []byte, err error) {
	off := HeaderSize
	if h.Flags.Has(FlagSequence) {
		if len(data) < off+seqFieldLen {
			return 0, false, nil, malformed("missing sequence number")
		}
		seq = int32(binary.BigEndian.Uint32(data[off:]))
		hasSeq = true
		off += seqFieldLen
	}
	raw, err := readSized(data, off)
	if err != nil {
		return 0, false, nil, err
	}
	switch h.Compression {
	case CompressionNone:
		payload = append([]byte(nil), raw...)
	case CompressionGzip:
		payload, err = gunzipBytes(raw)
		if err != nil {
			return 0, false, nil, malformed("gunzip payload: %v", err)
		}
	default:
		return 0, false, nil, malformed("unsupported compression %s", h.Compression)
	}
	return seq, hasSeq, payload, nil
}

// readSized reads the size field at off and returns the bytes it covers.
func readSized(data []byte, off int) ([]byte, error) {
	if len(data) < off+sizeFieldLen {
		return nil, malformed("missing payload size")
	}
	size := binary.BigEndian.Uint32(data[off:])
	off += sizeFieldLen
	if uint64(size) > uint64(len(data)-off) {
		return nil, malformed("payload size %d exceeds %d available bytes", size, len(data)-off)
	}
	return data[off : off+int(size)], nil
}
