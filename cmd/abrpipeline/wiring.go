package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/blob/gcs"
	s3store "abr-pipeline/internal/blob/s3"
	"abr-pipeline/internal/media"
	"abr-pipeline/internal/notify"
	"abr-pipeline/internal/orchestrator"
	"abr-pipeline/internal/platform/config"
	"abr-pipeline/internal/platform/metrics"
	"abr-pipeline/internal/records"
	"abr-pipeline/internal/transcode"
	"abr-pipeline/internal/transcode/ffmpeg"
	"abr-pipeline/internal/transcode/remote"
)

// pipeline is everything one process needs to run assets.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	store   blob.Store
	bus     *notify.Bus
	metrics *metrics.Metrics
	keys    media.Keyspace
	closers []io.Closer
}

func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i].Close())
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func buildPipeline(ctx context.Context, s config.Settings, collections config.Collections, log *slog.Logger) (*pipeline, error) {
	p := &pipeline{
		bus:     notify.NewBus(),
		metrics: metrics.New(),
		keys:    media.Keyspace{MediaPrefix: s.MediaPrefix, SegmentsPrefix: s.SegmentsPrefix},
	}

	backend, err := openStore(ctx, s, p)
	if err != nil {
		return nil, err
	}
	p.store = blob.NewRetrying(backend, blob.RetryOptions{
		Attempts: s.StorageAttempts,
		Timeout:  s.StorageTimeout,
	}, log.With(slog.String("component", "storage")))

	tc, err := openTranscoder(s, p.store, log)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	notifiers := notify.Multi{p.bus}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(log.With(slog.String("component", "orchestrator"))),
		orchestrator.WithMetrics(p.metrics),
	}

	if s.RedisURL != "" {
		pub, client, err := notify.NewRedisPublisher(s.RedisURL, s.RedisChannel)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.closers = append(p.closers, client)
		notifiers = append(notifiers, pub)
	}

	if s.RecordsDB != "" {
		rec, err := records.Open(s.RecordsDB)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.closers = append(p.closers, rec)
		if n, err := rec.ResetInterrupted(ctx); err != nil {
			log.Warn("reset interrupted records", slog.String("error", err.Error()))
		} else if n > 0 {
			log.Info("marked interrupted assets failed", slog.Int64("count", n))
		}
		notifiers = append(notifiers, rec)
		opts = append(opts, orchestrator.WithRecorder(rec))
	}
	opts = append(opts, orchestrator.WithNotifier(notifiers))

	p.orch = orchestrator.New(orchestrator.Config{
		Collections:    collections,
		Keys:           p.keys,
		MaxSourceBytes: s.MaxSourceBytes,
		Workers:        s.Workers,
		MaxAttempts:    s.MaxAttempts,
		RetryBase:      s.RetryBase,
		RetryMax:       s.RetryMax,
	}, p.store, tc, opts...)

	return p, nil
}

func openStore(ctx context.Context, s config.Settings, p *pipeline) (blob.Store, error) {
	switch s.StorageBackend {
	case "memory":
		return blob.NewMemoryStore(), nil
	case "fs":
		return blob.NewFileStore(s.StorageDir)
	case "gcs":
		st, err := gcs.New(ctx, gcs.Options{
			Bucket:          s.StorageBucket,
			CredentialsFile: s.GCSCredentials,
			Endpoint:        s.StorageEndpoint,
		})
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, st)
		return st, nil
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Bucket:   s.StorageBucket,
			Region:   s.StorageRegion,
			Endpoint: s.StorageEndpoint,
		})
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q (want memory, fs, gcs or s3)", s.StorageBackend)
	}
}

func openTranscoder(s config.Settings, store blob.Store, log *slog.Logger) (transcode.Transcoder, error) {
	switch s.Transcoder {
	case "ffmpeg":
		return ffmpeg.New(store,
			ffmpeg.WithBinaries(s.FFmpegPath, s.FFprobePath),
			ffmpeg.WithWorkDir(s.FFmpegWorkDir),
			ffmpeg.WithLogger(log.With(slog.String("component", "ffmpeg"))),
		), nil
	case "remote":
		if s.RemoteURL == "" {
			return nil, errors.New("TRANSCODER=remote requires REMOTE_TRANSCODER_URL")
		}
		return remote.New(s.RemoteURL, s.RemoteToken, &http.Client{Timeout: 30 * time.Minute}), nil
	default:
		return nil, fmt.Errorf("unknown TRANSCODER %q (want ffmpeg or remote)", s.Transcoder)
	}
}
