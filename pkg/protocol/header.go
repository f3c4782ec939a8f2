package protocol

// Header is the fixed 4-byte frame header.
type Header struct {
	Version       uint8
	HeaderWords   uint8
	Type          MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
}

// NewHeader returns a header with the protocol's fixed version marker.
func NewHeader(t MessageType, flags Flags, ser Serialization, comp Compression) Header {
	return Header{
		Version:       Version,
		HeaderWords:   HeaderWords,
		Type:          t,
		Flags:         flags,
		Serialization: ser,
		Compression:   comp,
	}
}

// Encode packs the header into its wire form. Only the low nibble of each
// field is used.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{
		(h.Version&0x0F)<<4 | h.HeaderWords&0x0F,
		uint8(h.Type&0x0F)<<4 | uint8(h.Flags&0x0F),
		uint8(h.Serialization&0x0F)<<4 | uint8(h.Compression&0x0F),
		0x00,
	}
}

// ParseHeader reads the first four bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, malformed("frame too short: %d bytes", len(b))
	}
	return Header{
		Version:       b[0] >> 4,
		HeaderWords:   b[0] & 0x0F,
		Type:          MessageType(b[1] >> 4),
		Flags:         Flags(b[1] & 0x0F),
		Serialization: Serialization(b[2] >> 4),
		Compression:   Compression(b[2] & 0x0F),
	}, nil
}
