package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/plogg/internal/audio"
	"github.com/zsiec/plogg/internal/config"
	"github.com/zsiec/plogg/internal/demux"
	"github.com/zsiec/plogg/internal/headless"
	"github.com/zsiec/plogg/internal/player"
	"github.com/zsiec/plogg/internal/stats"
	"github.com/zsiec/plogg/internal/vorbisdec"
)

var version = "dev"

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file.ogg>\n", os.Args[0])
		os.Exit(0)
	}

	cfg, err := config.Load(envOr("PLOGG_CONFIG", ""))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level := cfg.SlogLevel()
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, os.Args[1]); err != nil {
		slog.Error("playback error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, path string) error {
	id := ksuid.New().String()
	log := slog.Default().With("session", id)
	log.Info("plogg starting", "version", version, "file", path)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st := stats.New(id)
	defer func() {
		snap, err := json.Marshal(st.Snapshot())
		if err != nil {
			log.Warn("failed to encode stats", "error", err)
			return
		}
		log.Info("playback stats", "snapshot", string(snap))
	}()

	sess, err := demux.Open(ctx, f,
		demux.SessionOptLogger(log),
		demux.SessionOptChunkSize(cfg.Reader.ChunkSize),
		demux.SessionOptEndScanStep(cfg.Reader.EndScanStep),
		demux.SessionOptStats(st),
	)
	if err != nil {
		return err
	}
	log.Info("opened",
		"streams", len(sess.Streams()),
		"video", sess.HasVideo(),
		"data_offset", sess.DataOffset(),
		"duration", sess.EndTime(),
	)

	adec, err := vorbisdec.New(sess.Audio().Vorbis(), log)
	if err != nil {
		return err
	}

	sink := audio.NewPacedSink(log, audio.PacedSinkOptBuffer(cfg.Audio.Buffer))
	worker := audio.NewWorker(sink, log, audio.WorkerOptQueueDepth(cfg.Audio.QueueDepth))

	opts := []func(*player.Player){
		player.PlayerOptLogger(log),
		player.PlayerOptStats(st),
		player.PlayerOptSeekStep(cfg.Seek.Step),
		player.PlayerOptMaxHops(cfg.Seek.MaxHops),
		player.PlayerOptStatsInterval(cfg.Playback.StatsInterval),
	}
	if sess.HasVideo() {
		vdec, err := headless.NewFrameProbe(sess.Video().Theora(), log)
		if err != nil {
			return err
		}
		opts = append(opts, player.PlayerOptVideo(vdec, headless.NewRenderer(log)))
	}
	p, err := player.New(sess, adec, worker, opts...)
	if err != nil {
		return err
	}
	if cfg.Playback.StartAt > 0 {
		p.Seek(cfg.Playback.StartAt)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(ctx)
	})

	g.Go(func() error {
		// The worker stops once playback ends.
		defer cancel()
		err := p.Run(ctx)
		if err != nil && ctx.Err() != nil {
			// The worker went away under a cancelled context.
			return nil
		}
		return err
	})

	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
