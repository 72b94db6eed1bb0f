package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/omafpack/config"
	"github.com/zsiec/omafpack/extractor"
	"github.com/zsiec/omafpack/ingest"
	"github.com/zsiec/omafpack/metrics"
	"github.com/zsiec/omafpack/segmentation"
	"github.com/zsiec/omafpack/stream"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfgPath := envOr("OMAFPACK_CONFIG", "omafpack.yaml")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	slog.Info("omafpack starting",
		"version", version,
		"config", cfgPath,
		"streams", len(cfg.Streams),
		"extractors", len(cfg.Extractors),
		"live", cfg.Live,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("packaging failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	streams := make(map[uint8]*stream.VideoStream, len(cfg.Streams))
	feeders := make([]*ingest.Feeder, 0, len(cfg.Streams))

	for i, sc := range cfg.Streams {
		data, err := os.ReadFile(sc.Path)
		if err != nil {
			return fmt.Errorf("read stream %d: %w", i, err)
		}

		codec, err := sc.ParseCodec()
		if err != nil {
			return err
		}
		frameRate, err := sc.ParseFrameRate()
		if err != nil {
			return err
		}

		vs, err := stream.New(uint8(i), stream.Config{
			Codec:      codec,
			FrameRate:  frameRate,
			BitRate:    sc.BitRate,
			Projection: sc.ParseProjection(),
			HeaderData: data,
		}, nil)
		if err != nil {
			return fmt.Errorf("stream %d: %w", i, err)
		}

		streams[uint8(i)] = vs
		feeders = append(feeders, ingest.NewFeeder(vs, data, nil))
	}

	extractorSet, err := extractor.NewSet(cfg.ExtractorLayouts(), streams, nil)
	if err != nil {
		return err
	}

	met := metrics.New()
	seg, err := segmentation.New(streams, extractorSet, &segmentation.SegmentInfo{
		DirName:                     cfg.OutputDir,
		OutName:                     cfg.OutName,
		SegDur:                      cfg.SegmentDuration,
		IsLive:                      cfg.Live,
		WindowSize:                  cfg.WindowSize,
		ExtraWindowSize:             cfg.ExtraWindowSize,
		ExtractorTracksPerSegThread: cfg.ExtractorTracksPerThread,
	}, met, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	for _, f := range feeders {
		g.Go(func() error {
			return f.Run(ctx)
		})
	}

	if addr := os.Getenv("METRICS_ADDR"); addr != "" && cfg.Live {
		srv := &http.Server{Addr: addr, Handler: met.Handler()}
		g.Go(func() error {
			slog.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
		defer srv.Close()
	}

	g.Go(func() error {
		// The run's end also stops the feeders and the metrics listener.
		defer cancel()
		return seg.Run(ctx)
	})

	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
