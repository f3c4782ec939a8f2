// Command ghostype dictates one audio input through the streaming
// recognition service and prints the transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astronerd/ghostype/pkg/config"
	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/logging"
	"github.com/astronerd/ghostype/pkg/metrics"
	"github.com/astronerd/ghostype/pkg/observers"
	"github.com/astronerd/ghostype/pkg/redact"
	"github.com/astronerd/ghostype/pkg/runner"
	"github.com/joho/godotenv"
)

const drainTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config; empty uses defaults and GHOSTYPE_* env")
	input := flag.String("input", inputTone, "audio file, - for stdin, or tone for a synthetic test tone")
	format := flag.String("format", "", "input encoding: pcm, wav, ulaw or alaw (default from extension)")
	mock := flag.Bool("mock", false, "run against the built-in mock recognition service")
	polishFlag := flag.Bool("polish", false, "polish the transcript with the configured llm")
	translate := flag.String("translate", "", "translate the transcript: zh-en, zh-ja or auto (overrides polish.translate)")
	quiet := flag.Bool("quiet", false, "skip the start banner")
	flag.Parse()

	loadDotEnv(".env.local", ".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.InitLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stderr)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	obs, closeObs := buildObservers(cfg, logger)

	a := newApp(cfg, options{
		Input:     *input,
		Format:    *format,
		Mock:      *mock,
		Polish:    *polishFlag,
		Translate: *translate,
	}, os.Stdout, logger, obs)

	var banner io.Writer = os.Stderr
	if *quiet {
		banner = nil
	}
	r := runner.NewLifecycleRunner(a.run, runner.Hooks{
		OnStart: func() { logger.Info("ghostype_started", slog.String("version", runner.Version)) },
		OnStop:  func() { logger.Info("ghostype_stopped") },
	}, drainTimeout, banner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := r.Stop(); errors.Is(err, runner.ErrDrainTimeout) {
				logger.Error("ghostype_drain_timeout", slog.Duration("timeout", drainTimeout))
				os.Exit(1)
			}
		case <-finished:
		}
	}()
	err = r.Run(ctx)
	close(finished)
	stop()
	closeObs()

	if code := exitCode(err); code != 0 {
		logger.Error("ghostype_failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		os.Exit(code)
	}
}

// exitCode is 2 for configuration problems, wherever they surface, and 1
// for any other failure. Cancellation is a clean exit.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errorsx.HasReason(err, errorsx.ReasonConfigInvalid):
		return 2
	default:
		return 1
	}
}

// loadDotEnv loads whichever of the files exist. Values already in the
// environment win.
func loadDotEnv(files ...string) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("dotenv_load_failed", slog.String("file", f), slog.String("error", err.Error()))
		}
	}
}

// buildObservers wires the latency log and, with an artifacts dir, the
// session timeline behind an async queue.
func buildObservers(cfg config.Config, logger *slog.Logger) (metrics.Observer, func()) {
	latency := observers.NewLatencyObserver(logging.NewComponentLogger(logger, "latency"))
	dir := cfg.Observability.ArtifactsDir
	if dir == "" {
		return latency, func() {}
	}
	if hours := cfg.Observability.RetentionHours; hours > 0 {
		removed, err := observers.PurgeArtifacts(dir, time.Duration(hours)*time.Hour, time.Now())
		if err != nil {
			logger.Warn("artifact_purge_failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			logger.Info("artifacts_purged", slog.Int("removed", removed))
		}
	}
	timeline := observers.NewTimelineObserver(dir)
	async := metrics.NewAsyncObserver(timeline, 0)
	return metrics.Multi{latency, async}, func() {
		async.Close()
		if err := timeline.Close(); err != nil {
			logger.Warn("timeline_close_failed", slog.String("error", err.Error()))
		}
	}
}
