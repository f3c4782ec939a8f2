package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/astronerd/ghostype/pkg/asr"
	"github.com/astronerd/ghostype/pkg/audio"
	"github.com/astronerd/ghostype/pkg/config"
	"github.com/astronerd/ghostype/pkg/corpus"
	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/metrics"
	"github.com/astronerd/ghostype/pkg/mockserver"
	"github.com/astronerd/ghostype/pkg/observers"
	"github.com/astronerd/ghostype/pkg/polish"
	"github.com/google/uuid"
)

const (
	inputTone     = "tone"
	inputStdin    = "-"
	toneFrequency = 440
	toneDuration  = 2 * time.Second
	appName       = "ghostype"
)

type options struct {
	Input     string
	Format    string
	Mock      bool
	Polish    bool
	Translate string
}

// app runs one dictation: audio in, transcript out, then the optional
// polish, translate and corpus steps.
type app struct {
	cfg      config.Config
	opts     options
	out      io.Writer
	logger   *slog.Logger
	observer metrics.Observer
	now      func() time.Time
}

func newApp(cfg config.Config, opts options, out io.Writer, logger *slog.Logger, obs metrics.Observer) *app {
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &app{cfg: cfg, opts: opts, out: out, logger: logger, observer: obs, now: time.Now}
}

// transcript is what one run produced.
type transcript struct {
	ConnectID  string
	Text       string
	Polished   string
	Translated string
	Entry      *corpus.Entry
}

func (a *app) run(ctx context.Context) error {
	_, err := a.dictate(ctx)
	return err
}

func (a *app) dictate(ctx context.Context) (transcript, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessCfg := a.cfg.ASRSession()
	if sessCfg.ConnectID == "" {
		sessCfg.ConnectID = uuid.NewString()
	}
	tags := map[string]string{observers.TagConnectID: sessCfg.ConnectID}
	res := transcript{ConnectID: sessCfg.ConnectID}

	if a.opts.Mock {
		srv := mockserver.New(mockserver.Config{Sequence: true}, a.logger)
		sessCfg.URL = srv.Start()
		defer srv.Close()
		if sessCfg.AppKey == "" {
			sessCfg.AppKey = "mock-app"
		}
		if sessCfg.AccessKey == "" {
			sessCfg.AccessKey = "mock-access"
		}
	}

	chunkSize := audio.ChunkSize(sessCfg.Request.Audio.Rate, sessCfg.Request.Audio.Bits, sessCfg.Request.Audio.Channel,
		time.Duration(a.cfg.ASR.ChunkMS)*time.Millisecond)
	chunks, inputErr, closeInput, err := a.openInput(ctx, chunkSize)
	if err != nil {
		return res, err
	}
	defer closeInput()

	chunks, _ = audio.Tee(ctx, chunks, chunkMeter{obs: a.observer, tags: tags, now: a.now})
	var recordErr func() error
	if a.cfg.Observability.RecordAudio && a.cfg.Observability.ArtifactsDir != "" {
		rec, closeRec, err := a.openRecording(sessCfg.ConnectID)
		if err != nil {
			return res, err
		}
		chunks, recordErr = audio.Tee(ctx, chunks, rec)
		// Writes racing this close fail inside the recorder; the input may
		// still be blocked in a read, so the tee is not drained.
		defer func() {
			cancel()
			closeRec()
		}()
	}

	sess, err := asr.Dial(ctx, sessCfg, a.logger)
	if err != nil {
		return res, err
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for r := range sess.Results() {
			name := metrics.EventPartial
			if r.Final {
				name = metrics.EventFinal
			}
			a.observer.RecordEvent(metrics.Event{
				Name:   name,
				Time:   a.now(),
				Value:  float64(r.Sequence),
				Tags:   tags,
				Fields: map[string]any{"text": r.Text},
			})
			if r.Final {
				fmt.Fprintf(a.out, "[final] %s\n", r.Text)
			} else {
				fmt.Fprintf(a.out, "[partial] %s\n", r.Text)
			}
		}
	}()
	runErr := sess.Run(ctx, chunks)
	<-printed
	a.observer.RecordEvent(metrics.Event{Name: metrics.EventSessionDone, Time: a.now(), Tags: tags})

	if runErr != nil {
		return res, runErr
	}
	if err := inputErr(); err != nil {
		return res, err
	}
	if recordErr != nil {
		if err := recordErr(); err != nil {
			a.logger.Warn("audio_record_failed", slog.String("error", err.Error()))
		}
	}

	res.Text = sess.LastText()
	if strings.TrimSpace(res.Text) == "" {
		a.logger.Info("transcript_empty", slog.String("connect_id", sessCfg.ConnectID))
		return res, nil
	}
	if err := a.postProcess(ctx, &res, tags); err != nil {
		return res, err
	}
	if a.cfg.Corpus.Path != "" {
		store, err := corpus.Open(a.cfg.Corpus.Path)
		if err != nil {
			return res, err
		}
		entry, err := store.Append(res.Text, corpus.Source{AppName: appName})
		if err != nil {
			return res, err
		}
		res.Entry = &entry
		a.logger.Info("corpus_appended", slog.String("id", entry.ID))
	}
	return res, nil
}

func (a *app) postProcess(ctx context.Context, res *transcript, tags map[string]string) error {
	doPolish := a.opts.Polish || a.cfg.Polish.Enabled
	direction := a.translateDirection()
	if !doPolish && direction == "" {
		return nil
	}
	pcfg, err := a.cfg.PolishSettings()
	if err != nil {
		return err
	}
	p, err := polish.New(pcfg, a.logger)
	if err != nil {
		return err
	}
	if doPolish {
		start := a.now()
		out, err := p.Polish(ctx, res.Text)
		if err != nil {
			return err
		}
		a.observer.RecordEvent(metrics.Event{
			Name:  metrics.EventPolishDone,
			Time:  a.now(),
			Value: float64(a.now().Sub(start).Milliseconds()),
			Tags:  tags,
		})
		res.Polished = out
		fmt.Fprintf(a.out, "[polished] %s\n", out)
	}
	if direction != "" {
		lang, err := polish.ParseLanguage(direction)
		if err != nil {
			return err
		}
		src := res.Text
		if res.Polished != "" {
			src = res.Polished
		}
		out, err := p.Translate(ctx, src, lang)
		if err != nil {
			return err
		}
		res.Translated = out
		fmt.Fprintf(a.out, "[translated] %s\n", out)
	}
	return nil
}

// translateDirection prefers the -translate flag over polish.translate.
// Empty means no translation.
func (a *app) translateDirection() string {
	if d := strings.TrimSpace(a.opts.Translate); d != "" {
		return d
	}
	return strings.TrimSpace(a.cfg.Polish.Translate)
}

// openInput returns the chunk stream for the configured input. The error
// func is only meaningful after the stream has been drained.
func (a *app) openInput(ctx context.Context, chunkSize int) (<-chan []byte, func() error, func(), error) {
	noErr := func() error { return nil }
	noop := func() {}
	rate := a.cfg.ASR.Request.Audio.Rate

	if a.opts.Input == "" || a.opts.Input == inputTone {
		pcm := audio.Tone(toneFrequency, toneDuration, rate)
		return audio.Feed(ctx, audio.Split(pcm, chunkSize)), noErr, noop, nil
	}

	enc, err := a.inputEncoding()
	if err != nil {
		return nil, nil, nil, err
	}

	var f *os.File
	if a.opts.Input == inputStdin {
		f = os.Stdin
	} else {
		f, err = os.Open(a.opts.Input)
		if err != nil {
			return nil, nil, nil, errorsx.Wrap(fmt.Errorf("open input: %w", err), errorsx.ReasonAudioInput)
		}
	}
	closeFile := func() {
		if f != os.Stdin {
			_ = f.Close()
		}
	}

	switch enc {
	case audio.EncodingPCM:
		chunks, errc := audio.Stream(ctx, f, chunkSize)
		return chunks, func() error { return <-errc }, closeFile, nil
	case audio.EncodingWAV:
		defer closeFile()
		pcm, format, err := audio.ReadWAV(f)
		if err != nil {
			return nil, nil, nil, err
		}
		pcm, err = audio.ToSpeech(pcm, format)
		if err != nil {
			return nil, nil, nil, err
		}
		pcm = audio.Resample(pcm, audio.Speech.SampleRate, rate)
		return audio.Feed(ctx, audio.Split(pcm, chunkSize)), noErr, noop, nil
	default:
		defer closeFile()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, nil, nil, errorsx.Wrap(fmt.Errorf("read input: %w", err), errorsx.ReasonAudioInput)
		}
		pcm, err := audio.DecodeG711(data, enc)
		if err != nil {
			return nil, nil, nil, err
		}
		pcm = audio.Resample(pcm, g711Rate, rate)
		return audio.Feed(ctx, audio.Split(pcm, chunkSize)), noErr, noop, nil
	}
}

// G.711 input is telephony audio.
const g711Rate = 8000

func (a *app) inputEncoding() (audio.Encoding, error) {
	if a.opts.Format != "" {
		return audio.ParseEncoding(a.opts.Format)
	}
	switch strings.ToLower(filepath.Ext(a.opts.Input)) {
	case ".wav", ".wave":
		return audio.EncodingWAV, nil
	case ".ulaw", ".mulaw", ".pcmu":
		return audio.EncodingULaw, nil
	case ".alaw", ".pcma":
		return audio.EncodingALaw, nil
	default:
		return audio.EncodingPCM, nil
	}
}

func (a *app) openRecording(connectID string) (*audio.Recorder, func(), error) {
	dir := a.cfg.Observability.ArtifactsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, errorsx.Wrap(fmt.Errorf("artifacts dir: %w", err), errorsx.ReasonAudioInput)
	}
	f, err := os.Create(filepath.Join(dir, connectID+".wav"))
	if err != nil {
		return nil, nil, errorsx.Wrap(fmt.Errorf("create recording: %w", err), errorsx.ReasonAudioInput)
	}
	meta := a.cfg.ASR.Request.Audio
	rec := audio.NewRecorder(f, audio.Format{SampleRate: meta.Rate, BitDepth: meta.Bits, Channels: meta.Channel})
	return rec, func() {
		if err := errors.Join(rec.Close(), f.Close()); err != nil {
			a.logger.Warn("audio_record_close_failed", slog.String("error", err.Error()))
			return
		}
		a.logger.Info("audio_recorded", slog.String("path", f.Name()), slog.Duration("duration", rec.Duration()))
	}, nil
}

// chunkMeter records one event per audio chunk on its way to the session.
type chunkMeter struct {
	obs  metrics.Observer
	tags map[string]string
	now  func() time.Time
}

func (m chunkMeter) Write(p []byte) (int, error) {
	m.obs.RecordEvent(metrics.Event{Name: metrics.EventAudioChunk, Time: m.now(), Value: float64(len(p)), Tags: m.tags})
	return len(p), nil
}
