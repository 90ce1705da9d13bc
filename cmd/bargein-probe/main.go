// bargein-probe streams a raw PCM file at a bargein detection endpoint with
// the overlap window forced open, and prints every decision the service
// returns. It exists to exercise a deployment end to end without a full voice
// session in front of it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vango-go/bargein/internal/dotenv"
	"github.com/vango-go/bargein/pkg/core/bargein"
)

type options struct {
	url        string
	apiKey     string
	file       string
	sampleRate int
	chunkMS    int
	threshold  float64
	minFrames  int
	cacheSize  int
	realtime   bool
	debug      bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = dotenv.Load(".env")

	var opt options
	flag.StringVar(&opt.url, "url", strings.TrimSpace(os.Getenv("BARGEIN_URL")), "Detector WebSocket URL (ws(s)://...); also reads BARGEIN_URL")
	flag.StringVar(&opt.apiKey, "api-key", strings.TrimSpace(os.Getenv("BARGEIN_API_KEY")), "API key (optional; also reads BARGEIN_API_KEY)")
	flag.StringVar(&opt.file, "file", "", "Raw PCM input file (pcm_s16le mono); required")
	flag.IntVar(&opt.sampleRate, "sample-rate", bargein.DefaultSampleRate, "Input sample rate in Hz")
	flag.IntVar(&opt.chunkMS, "chunk-ms", 100, "Chunk duration in ms")
	flag.Float64Var(&opt.threshold, "threshold", bargein.DefaultThreshold, "Server-side detection threshold")
	flag.IntVar(&opt.minFrames, "min-frames", bargein.DefaultMinFrames, "Server-side minimum frames setting")
	flag.IntVar(&opt.cacheSize, "cache-size", bargein.DefaultSpanCacheSize, "Span cache capacity")
	flag.BoolVar(&opt.realtime, "realtime", true, "Pace chunks at playback speed")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if strings.TrimSpace(opt.url) == "" || strings.TrimSpace(opt.file) == "" {
		fmt.Fprintln(os.Stderr, "usage: bargein-probe -url ws://host/v1/bargein -file audio.pcm [flags]")
		flag.PrintDefaults()
		return 2
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(opt, logger); err != nil {
		logger.Error("probe failed", "error", err)
		return 1
	}
	return 0
}

func run(opt options, logger *slog.Logger) error {
	audio, err := os.ReadFile(opt.file)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}
	chunkBytes := opt.sampleRate * 2 * opt.chunkMS / 1000
	if chunkBytes < 2 {
		return fmt.Errorf("chunk of %dms at %dHz is empty", opt.chunkMS, opt.sampleRate)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := bargein.NewMemoryStateStore(opt.cacheSize)
	det, err := bargein.NewDetector(bargein.Config{
		URL:        opt.url,
		APIKey:     opt.apiKey,
		SampleRate: opt.sampleRate,
		Threshold:  opt.threshold,
		MinFrames:  opt.minFrames,
		Logger:     logger,
	}, store)
	if err != nil {
		return err
	}
	defer det.Close()

	if err := det.Connect(ctx); err != nil {
		return err
	}

	// The probe has no agent speech to overlap with, so force the window
	// open for the whole run. Each decision closes it, so it is reopened
	// after every printed event.
	openWindow := func() {
		now := time.Now()
		on := true
		store.Apply(bargein.StateUpdate{OverlapSpeechStarted: &on, OverlapSpeechStartedAt: &now})
	}
	openWindow()

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for off := 0; off < len(audio); off += chunkBytes {
			end := off + chunkBytes
			if end > len(audio) {
				end = len(audio)
			}
			if err := det.SendAudio(audio[off:end]); err != nil {
				logger.Warn("chunk not sent", "offset", off, "error", err)
				return
			}
			if opt.realtime {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(opt.chunkMS) * time.Millisecond):
				}
			}
		}
	}()

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-det.Done():
			return det.Err()
		case <-sendDone:
			// Leave a grace period for in-flight verdicts, then finish.
			sendDone = nil
			go func() {
				time.Sleep(2 * time.Second)
				det.Close()
			}()
		case ev := <-det.Events():
			if decision, ok := ev.(*bargein.InterruptionEvent); ok {
				if err := enc.Encode(decision); err != nil {
					return fmt.Errorf("encode event: %w", err)
				}
				openWindow()
			}
		}
	}
}
