package asr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/logging"
	"github.com/astronerd/ghostype/pkg/protocol"
	"github.com/astronerd/ghostype/pkg/redact"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateAwaitingAck
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is a transcript surfaced by the service.
type Result struct {
	Text       string
	Final      bool
	Sequence   int32
	Utterances []protocol.Utterance
}

// Session drives one recognition stream over a Conn.
type Session struct {
	conn    Conn
	cfg     Config
	logger  *slog.Logger
	results chan Result

	state    atomic.Int32
	lastText atomic.Value
	ran      atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewSession wraps an established connection. Call Start before Run.
func NewSession(conn Conn, cfg Config, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		conn: conn,
		cfg:  cfg,
		logger: logging.NewComponentLogger(logger, "asr").With(
			slog.String("connect_id", cfg.ConnectID)),
		results: make(chan Result, cfg.ResultBuffer),
	}
}

// Results delivers transcripts as they change. It is closed when Run returns.
func (s *Session) Results() <-chan Result { return s.results }

// LastText is the most recent non-empty transcript.
func (s *Session) LastText() string {
	v, _ := s.lastText.Load().(string)
	return v
}

func (s *Session) State() State { return State(s.state.Load()) }

// Start sends the session init frame and waits for the service to answer.
// An ErrorResponse answer is terminal.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingAck)) {
		return errorsx.Newf(errorsx.ReasonSessionState, "asr: start in state %s", s.State())
	}
	if ctx == nil {
		ctx = context.Background()
	}

	initFrame, err := protocol.EncodeFullClientRequest(s.cfg.Request)
	if err != nil {
		_ = s.Close()
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	if err := s.write(initFrame); err != nil {
		_ = s.Close()
		return err
	}

	msg, err := s.awaitAck(ctx)
	switch {
	case err == nil:
	case protocol.IsMalformed(err):
		s.logger.Warn("asr_ack_malformed", slog.String("error", err.Error()))
	default:
		if re, ok := protocol.AsRemoteError(err); ok {
			s.logger.Error("asr_init_rejected",
				slog.Int("code", int(re.Code)),
				slog.String("message", re.Message))
		}
		_ = s.Close()
		return err
	}
	if msg != nil {
		s.logger.Debug("asr_ack_received", slog.String("type", msg.Type.String()))
	}

	s.state.Store(int32(StateStreaming))
	s.logger.Info("asr_session_started",
		slog.Int("rate", s.cfg.Request.Audio.Rate),
		slog.String("format", s.cfg.Request.Audio.Format))
	return nil
}

func (s *Session) awaitAck(ctx context.Context) (*protocol.Message, error) {
	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		_, data, err := s.conn.ReadMessage()
		ch <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("asr: read ack: %w", r.err), errorsx.ReasonTransportRead)
		}
		return protocol.Decode(r.data)
	case <-timer.C:
		_ = s.closeTransport()
		return nil, errorsx.Newf(errorsx.ReasonSessionState, "asr: no acknowledgement within %s", s.cfg.AckTimeout)
	case <-ctx.Done():
		_ = s.closeTransport()
		return nil, ctx.Err()
	}
}

// Run streams audio until the source closes, then waits for trailing
// results. The sender and receiver share one cancellation: whichever stops
// first stops the other, and the transport is closed before Run returns.
// A RemoteError or transport failure is returned; malformed frames are
// dropped.
func (s *Session) Run(ctx context.Context, audio <-chan []byte) error {
	if s.State() != StateStreaming || !s.ran.CompareAndSwap(false, true) {
		return errorsx.Newf(errorsx.ReasonSessionState, "asr: run in state %s", s.State())
	}
	defer close(s.results)
	defer s.Close()
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	go func() {
		<-gctx.Done()
		_ = s.closeTransport()
	}()

	serverDone := make(chan struct{})
	var serverDoneOnce sync.Once
	markServerDone := func() { serverDoneOnce.Do(func() { close(serverDone) }) }

	g.Go(func() error {
		err := s.send(gctx, audio)
		if err != nil || gctx.Err() != nil {
			return err
		}
		timer := time.NewTimer(s.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.logger.Debug("asr_grace_elapsed")
		case <-serverDone:
		case <-gctx.Done():
			return nil
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		return s.receive(gctx, markServerDone)
	})

	err := g.Wait()
	if ctx.Err() != nil && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.logger.Warn("asr_session_failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	} else {
		s.logger.Info("asr_session_finished", slog.String("text", redact.Text(s.LastText())))
	}
	return err
}

// send forwards audio with one chunk of look-ahead so that only the last
// chunk carries the final flag. Nothing is written after the final chunk.
func (s *Session) send(ctx context.Context, audio <-chan []byte) error {
	var limiter *rate.Limiter
	if s.cfg.ChunkInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.cfg.ChunkInterval), 1)
	}

	var pending []byte
	have := false
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-audio:
			if !ok {
				if err := s.sendChunk(ctx, limiter, pending, true); err != nil {
					return err
				}
				s.logger.Debug("asr_final_chunk_sent",
					slog.Int("chunks", sent+1),
					slog.Int("bytes", len(pending)))
				return nil
			}
			if have {
				if err := s.sendChunk(ctx, limiter, pending, false); err != nil {
					return err
				}
				sent++
			}
			pending = append(pending[:0], chunk...)
			have = true
		}
	}
}

func (s *Session) sendChunk(ctx context.Context, limiter *rate.Limiter, chunk []byte, final bool) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errorsx.Wrap(fmt.Errorf("asr: pace: %w", err), errorsx.ReasonSessionState)
		}
	}
	return s.write(protocol.EncodeAudio(chunk, final))
}

// receive decodes every inbound frame until the transport is closed.
func (s *Session) receive(ctx context.Context, serverDone func()) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Debug("asr_server_closed")
				serverDone()
				return nil
			}
			return errorsx.Wrap(fmt.Errorf("asr: read: %w", err), errorsx.ReasonTransportRead)
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if protocol.IsMalformed(err) {
				s.logger.Warn("frame_dropped",
					slog.Int("bytes", len(data)),
					slog.String("error", err.Error()))
				continue
			}
			if re, ok := protocol.AsRemoteError(err); ok {
				s.logger.Error("asr_remote_error",
					slog.Int("code", int(re.Code)),
					slog.String("message", re.Message))
			}
			return err
		}
		if msg.Ignored() {
			s.logger.Debug("frame_ignored", slog.String("type", msg.Type.String()))
			continue
		}

		if err := s.surface(ctx, msg); err != nil {
			return nil
		}
		if msg.Final() {
			serverDone()
		}
	}
}

// surface publishes msg when its text differs from the last surfaced text,
// and always for a final response.
func (s *Session) surface(ctx context.Context, msg *protocol.Message) error {
	text := msg.Response.Text()
	last := s.LastText()
	changed := text != "" && text != last
	if !changed && !msg.Final() {
		return nil
	}
	if text == "" {
		text = last
	}
	if changed {
		s.lastText.Store(text)
	}
	res := Result{
		Text:       text,
		Final:      msg.Final(),
		Sequence:   msg.Sequence,
		Utterances: msg.Response.DefiniteUtterances(),
	}
	s.logger.Debug("asr_result",
		slog.Bool("final", res.Final),
		slog.Int("sequence", int(res.Sequence)),
		slog.String("text", redact.Text(text)))
	select {
	case s.results <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errorsx.Wrap(fmt.Errorf("asr: write: %w", err), errorsx.ReasonTransportWrite)
	}
	return nil
}

func (s *Session) closeTransport() error {
	s.closeOnce.Do(func() {
		// A writer stuck on the network keeps the lock; skip the close
		// handshake then and just drop the connection.
		if s.writeMu.TryLock() {
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Close releases the transport. Results is closed here only when Run was
// never called.
func (s *Session) Close() error {
	s.state.Store(int32(StateClosed))
	err := s.closeTransport()
	if s.ran.CompareAndSwap(false, true) {
		close(s.results)
	}
	return err
}
