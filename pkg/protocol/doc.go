// Package protocol implements the binary frame codec of the streaming speech
// recognition service.
//
// Every frame travels as one WebSocket binary message:
//
//	byte 0    version (high nibble) / header size in 4-byte words (low nibble), always 0x11
//	byte 1    message type (high nibble) / flags (low nibble)
//	byte 2    serialization (high nibble) / compression (low nibble)
//	byte 3    reserved, zero
//	[4 bytes] big-endian sequence number, only when FlagSequence is set
//	4 bytes   big-endian payload size
//	N bytes   payload, optionally gzip-compressed
//
// Error responses replace the size/payload section with a 4-byte error code,
// a 4-byte message length and a UTF-8 message.
package protocol
