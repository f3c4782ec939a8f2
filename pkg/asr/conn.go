package asr

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/redact"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Identification headers sent on the upgrade request.
const (
	HeaderAppKey     = "X-Api-App-Key"
	HeaderAccessKey  = "X-Api-Access-Key"
	HeaderResourceID = "X-Api-Resource-Id"
	HeaderConnectID  = "X-Api-Connect-Id"
	HeaderRequestID  = "X-Api-Request-Id"
)

// Conn is the message transport a Session runs over. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Headers returns the identification headers for cfg.
func Headers(cfg Config) http.Header {
	h := http.Header{}
	h.Set(HeaderAppKey, cfg.AppKey)
	h.Set(HeaderAccessKey, cfg.AccessKey)
	h.Set(HeaderResourceID, cfg.ResourceID)
	h.Set(HeaderConnectID, cfg.ConnectID)
	h.Set(HeaderRequestID, uuid.NewString())
	return h
}

// Dial connects to the recognition service, sends the session init frame and
// waits for its acknowledgement.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	headers := Headers(cfg)
	if logger != nil {
		logger.Debug("asr_dialing",
			slog.String("url", cfg.URL),
			slog.String("app_key", redact.Secret(cfg.AppKey)),
			slog.String("access_key", redact.Secret(cfg.AccessKey)),
			slog.String("connect_id", cfg.ConnectID))
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			logid := resp.Header.Get("X-Tt-Logid")
			return nil, errorsx.Wrap(fmt.Errorf("asr: dial %s: %s (logid=%s): %w", cfg.URL, resp.Status, logid, err), errorsx.ReasonTransportDial)
		}
		return nil, errorsx.Wrap(fmt.Errorf("asr: dial %s: %w", cfg.URL, err), errorsx.ReasonTransportDial)
	}

	s := NewSession(conn, cfg, logger)
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
