package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Frame level. A malformed frame is dropped and the session continues.
	ReasonMalformedFrame ReasonCode = "malformed_frame"
	ReasonRemoteError    ReasonCode = "remote_error"

	ReasonTransportDial  ReasonCode = "transport_dial"
	ReasonTransportRead  ReasonCode = "transport_read"
	ReasonTransportWrite ReasonCode = "transport_write"
	ReasonSessionState   ReasonCode = "session_state"

	ReasonConfigInvalid ReasonCode = "config_invalid"
	ReasonAudioInput    ReasonCode = "audio_input"

	ReasonPolishRequest     ReasonCode = "polish_request"
	ReasonPolishCircuitOpen ReasonCode = "polish_circuit_open"

	ReasonCorpusWrite ReasonCode = "corpus_write"
)

// terminalReasons end a recognition session when they surface.
var terminalReasons = map[ReasonCode]bool{
	ReasonRemoteError:    true,
	ReasonTransportDial:  true,
	ReasonTransportRead:  true,
	ReasonTransportWrite: true,
	ReasonSessionState:   true,
}
