// Package mockserver is a scripted stand-in for the streaming recognition
// service. It speaks the binary frame protocol over WebSocket and reveals a
// fixed transcript one word per audio frame.
package mockserver

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/astronerd/ghostype/pkg/logging"
	"github.com/astronerd/ghostype/pkg/protocol"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Error codes the mock answers protocol violations with.
const (
	CodeBadRequest   uint32 = 45000001
	CodeInvalidAudio uint32 = 45000000
)

var requiredHeaders = []string{
	"X-Api-App-Key",
	"X-Api-Access-Key",
	"X-Api-Resource-Id",
	"X-Api-Connect-Id",
}

// Config scripts the mock's behaviour.
type Config struct {
	// Words are revealed one per audio frame. Defaults to a short Chinese
	// sentence.
	Words []string
	// Sequence adds sequence numbers to responses; the final one is negated.
	Sequence bool
	// Uncompressed sends response payloads without gzip.
	Uncompressed bool

	// AppKey and AccessKey, when set, must match the request headers.
	AppKey    string
	AccessKey string

	// RejectInit answers the init frame with an ErrorResponse.
	RejectInit bool
	// FailAfter sends an ErrorResponse after this many audio frames.
	FailAfter    int
	ErrorCode    uint32
	ErrorMessage string
	// MalformedAfter sends one undecodable frame after this many audio
	// frames, then carries on.
	MalformedAfter int
	// SkipFinal never answers the final audio frame.
	SkipFinal bool
}

func (c Config) withDefaults() Config {
	if len(c.Words) == 0 {
		c.Words = []string{"你好", "世界", "。"}
	}
	if c.ErrorCode == 0 {
		c.ErrorCode = CodeInvalidAudio
	}
	if c.ErrorMessage == "" {
		c.ErrorMessage = "invalid audio"
	}
	return c
}

// AudioFrame records one audio frame as received.
type AudioFrame struct {
	Size  int
	Final bool
}

// Server is an http.Handler; use Start for an httptest listener.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
	ts       *httptest.Server

	mu      sync.Mutex
	headers []http.Header
	inits   []protocol.SessionRequest
	audio   []AudioFrame
}

func New(cfg Config, logger *slog.Logger) *Server {
	return &Server{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger(logger, "mockserver"),
	}
}

// Start listens on a loopback port and returns the ws:// URL.
func (s *Server) Start() string {
	s.ts = httptest.NewServer(s)
	return s.URL()
}

func (s *Server) URL() string {
	if s.ts == nil {
		return ""
	}
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *Server) Close() {
	if s.ts != nil {
		s.ts.Close()
	}
}

// Headers returns the upgrade headers of every accepted connection.
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

// Inits returns every session request received.
func (s *Server) Inits() []protocol.SessionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.SessionRequest(nil), s.inits...)
}

// AudioFrames returns every audio frame received, across sessions.
func (s *Server) AudioFrames() []AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AudioFrame(nil), s.audio...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, h := range requiredHeaders {
		if strings.TrimSpace(r.Header.Get(h)) == "" {
			s.logger.Warn("mock_missing_header", slog.String("header", h))
			http.Error(w, "missing "+h, http.StatusUnauthorized)
			return
		}
	}
	if (s.cfg.AppKey != "" && r.Header.Get("X-Api-App-Key") != s.cfg.AppKey) ||
		(s.cfg.AccessKey != "" && r.Header.Get("X-Api-Access-Key") != s.cfg.AccessKey) {
		http.Error(w, "invalid credentials", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{"X-Tt-Logid": []string{"mock-" + r.Header.Get("X-Api-Connect-Id")}})
	if err != nil {
		s.logger.Warn("mock_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	s.serve(conn)
}

func (s *Server) serve(conn *websocket.Conn) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f, err := protocol.Unmarshal(data)
	if err != nil || f.Type != protocol.FullClientRequest {
		s.fail(conn, CodeBadRequest, "expected full client request")
		return
	}
	var req protocol.SessionRequest
	if err := sonic.Unmarshal(f.Payload, &req); err != nil {
		s.fail(conn, CodeBadRequest, "invalid session request")
		return
	}
	s.mu.Lock()
	s.inits = append(s.inits, req)
	s.mu.Unlock()

	if s.cfg.RejectInit {
		s.fail(conn, s.cfg.ErrorCode, s.cfg.ErrorMessage)
		return
	}
	if err := s.respond(conn, 0, false, 0, ""); err != nil {
		return
	}

	bytesPerMS := bytesPerMillisecond(req.Audio)
	received, count := 0, 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.Unmarshal(data)
		if err != nil || f.Type != protocol.AudioOnlyRequest {
			s.fail(conn, CodeBadRequest, "expected audio-only request")
			return
		}
		count++
		received += len(f.Payload)
		final := f.Flags.Has(protocol.FlagFinal)
		s.mu.Lock()
		s.audio = append(s.audio, AudioFrame{Size: len(f.Payload), Final: final})
		s.mu.Unlock()

		if s.cfg.FailAfter > 0 && count == s.cfg.FailAfter {
			s.fail(conn, s.cfg.ErrorCode, s.cfg.ErrorMessage)
			return
		}
		if s.cfg.MalformedAfter > 0 && count == s.cfg.MalformedAfter {
			if err := conn.WriteMessage(websocket.BinaryMessage, malformedFrame()); err != nil {
				return
			}
		}
		if final && s.cfg.SkipFinal {
			continue
		}

		text := strings.Join(s.cfg.Words[:min(count, len(s.cfg.Words))], "")
		if final {
			text = strings.Join(s.cfg.Words, "")
		}
		seq := int32(count)
		if final {
			seq = -seq
		}
		if err := s.respond(conn, seq, final, received/bytesPerMS, text); err != nil {
			return
		}
		if final {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Server) respond(conn *websocket.Conn, seq int32, final bool, durationMS int, text string) error {
	resp := protocol.Response{
		AudioInfo: protocol.AudioInfo{Duration: durationMS},
		Result:    protocol.Result{Text: text},
	}
	if text != "" {
		resp.Result.Utterances = []protocol.Utterance{{
			Text:     text,
			EndTime:  durationMS,
			Definite: final,
		}}
	}
	body, err := sonic.Marshal(resp)
	if err != nil {
		return err
	}
	flags := protocol.FlagNone
	if s.cfg.Sequence {
		flags |= protocol.FlagSequence
	}
	if final {
		flags |= protocol.FlagFinal
	}
	comp := protocol.CompressionGzip
	if s.cfg.Uncompressed {
		comp = protocol.CompressionNone
	}
	return conn.WriteMessage(websocket.BinaryMessage, protocol.Marshal(protocol.Frame{
		Header:   protocol.NewHeader(protocol.FullServerResponse, flags, protocol.SerializationJSON, comp),
		Sequence: seq,
		Payload:  body,
	}))
}

func (s *Server) fail(conn *websocket.Conn, code uint32, msg string) {
	s.logger.Info("mock_error_response", slog.Int("code", int(code)), slog.String("message", msg))
	_ = conn.WriteMessage(websocket.BinaryMessage, protocol.Marshal(protocol.Frame{
		Header:    protocol.NewHeader(protocol.ErrorResponse, protocol.FlagNone, protocol.SerializationJSON, protocol.CompressionNone),
		ErrorCode: code,
		Payload:   []byte(msg),
	}))
}

// malformedFrame declares more payload than it carries.
func malformedFrame() []byte {
	return []byte{0x11, 0x90, 0x11, 0x00, 0x00, 0x00, 0x01, 0x00, '{'}
}

func bytesPerMillisecond(a protocol.AudioMeta) int {
	rate, bits, ch := a.Rate, a.Bits, a.Channel
	if rate <= 0 {
		rate = 16000
	}
	if bits <= 0 {
		bits = 16
	}
	if ch <= 0 {
		ch = 1
	}
	n := rate * bits / 8 * ch / 1000
	if n <= 0 {
		return 1
	}
	return n
}
