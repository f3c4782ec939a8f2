package asr

import (
	"strings"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/protocol"
	"github.com/google/uuid"
)

const (
	DefaultURL        = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	DefaultResourceID = "volc.seedasr.sauc.duration"

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultAckTimeout       = 10 * time.Second
	DefaultGracePeriod      = 3 * time.Second
	DefaultResultBuffer     = 64
)

// Config identifies the caller to the recognition service and shapes the
// stream. Credentials are always supplied by the caller.
type Config struct {
	URL        string
	AppKey     string
	AccessKey  string
	ResourceID string
	// ConnectID is generated when empty.
	ConnectID string

	HandshakeTimeout time.Duration
	AckTimeout       time.Duration
	// ChunkInterval paces audio frames. Zero sends as fast as possible.
	ChunkInterval time.Duration
	// GracePeriod is how long trailing frames are awaited after the final
	// audio chunk. A server frame flagged final ends the wait early.
	GracePeriod  time.Duration
	ResultBuffer int

	Request protocol.SessionRequest
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultURL
	}
	if strings.TrimSpace(c.ResourceID) == "" {
		c.ResourceID = DefaultResourceID
	}
	if strings.TrimSpace(c.ConnectID) == "" {
		c.ConnectID = uuid.NewString()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = DefaultResultBuffer
	}
	if c.Request.Request.ModelName == "" {
		c.Request = protocol.DefaultSessionRequest()
	}
	return c
}

// Validate checks the fields the service refuses to run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AppKey) == "" {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "asr: app key is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "asr: access key is required")
	}
	if c.ChunkInterval < 0 {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "asr: chunk interval must not be negative")
	}
	return nil
}
