package protocol

import (
	"errors"
	"fmt"

	"github.com/astronerd/ghostype/pkg/errorsx"
)

// ErrMalformedFrame is matched by every decoding failure that originates
// locally: short input, bad compression, bad UTF-8 or JSON.
var ErrMalformedFrame = errors.New("malformed frame")

func malformed(format string, args ...any) error {
	return errorsx.Newf(errorsx.ReasonMalformedFrame, "protocol: %s: %w", fmt.Sprintf(format, args...), ErrMalformedFrame)
}

// IsMalformed reports whether err came from a frame that could not be decoded.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedFrame)
}

// RemoteError is an ErrorResponse frame sent by the service. It is terminal
// for the session.
type RemoteError struct {
	Code    uint32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// AsRemoteError extracts a *RemoteError from err.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
