package protocol

import "fmt"

const (
	// Version is the protocol version carried in the high nibble of byte 0.
	Version uint8 = 0x1
	// HeaderWords is the header size in 4-byte units.
	HeaderWords uint8 = 0x1
	// HeaderSize is the size of the fixed header in bytes.
	HeaderSize = 4

	sizeFieldLen = 4
	seqFieldLen  = 4
	codeFieldLen = 4
)

// MessageType identifies the kind of frame.
type MessageType uint8

const (
	FullClientRequest  MessageType = 0x1
	AudioOnlyRequest   MessageType = 0x2
	FullServerResponse MessageType = 0x9
	ErrorResponse      MessageType = 0xF
)

func (t MessageType) String() string {
	switch t {
	case FullClientRequest:
		return "full_client_request"
	case AudioOnlyRequest:
		return "audio_only_request"
	case FullServerResponse:
		return "full_server_response"
	case ErrorResponse:
		return "error_response"
	default:
		return fmt.Sprintf("reserved(0x%X)", uint8(t))
	}
}

// Flags is the 4-bit flag set of byte 1.
type Flags uint8

const (
	FlagNone Flags = 0x0
	// FlagSequence marks a frame that carries a sequence number.
	FlagSequence Flags = 0x1
	// FlagFinal marks the last packet of a logical stream.
	FlagFinal Flags = 0x2
)

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Serialization describes how the payload is encoded.
type Serialization uint8

const (
	SerializationNone Serialization = 0x0
	SerializationJSON Serialization = 0x1
)

// Compression describes how the payload is compressed.
type Compression uint8

const (
	CompressionNone Compression = 0x0
	CompressionGzip Compression = 0x1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	default:
		return fmt.Sprintf("unknown(0x%X)", uint8(c))
	}
}
