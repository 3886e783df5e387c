// Package ffmpeg is the local encoder: it runs ffmpeg on this host and serves
// the segment muxer's chunks as rendition packets.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/media"
	"abr-pipeline/internal/transcode"
)

var commandContext = exec.CommandContext

const (
	sourceName = "source"
	listName   = "chunks.csv"
	chunkGlob  = "chunk_%05d.ts"
)

// Option configures the encoder.
type Option func(*Encoder)

// WithBinaries overrides the ffmpeg and ffprobe executables.
func WithBinaries(ffmpegPath, ffprobePath string) Option {
	return func(e *Encoder) {
		if ffmpegPath != "" {
			e.ffmpeg = ffmpegPath
		}
		if ffprobePath != "" {
			e.ffprobe = ffprobePath
		}
	}
}

// WithWorkDir sets the parent directory for per-job scratch space.
func WithWorkDir(dir string) Option {
	return func(e *Encoder) {
		if dir != "" {
			e.workDir = dir
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Encoder) {
		if log != nil {
			e.log = log
		}
	}
}

// Encoder implements transcode.Transcoder with a local ffmpeg.
type Encoder struct {
	store   blob.Store
	ffmpeg  string
	ffprobe string
	workDir string
	log     *slog.Logger
}

// New returns an encoder reading sources from store.
func New(store blob.Store, opts ...Option) *Encoder {
	e := &Encoder{
		store:   store,
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		workDir: os.TempDir(),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ transcode.Transcoder = (*Encoder)(nil)

// Transcode downloads the source, encodes one rendition into segment-sized
// chunks and returns them as packets. The scratch directory is removed when
// the rendition is closed.
func (e *Encoder) Transcode(ctx context.Context, src transcode.Source, spec media.RenditionSpec) (*transcode.Rendition, error) {
	dir, err := os.MkdirTemp(e.workDir, "abr-"+spec.ID()+"-")
	if err != nil {
		return nil, media.TranscodeError(media.Transient, "workdir", err)
	}
	ok := false
	defer func() {
		if !ok {
			os.RemoveAll(dir)
		}
	}()

	data, err := e.store.Get(ctx, src.Key)
	if err != nil {
		kind := media.Permanent
		if media.IsTransient(err) {
			kind = media.Transient
		}
		return nil, media.TranscodeError(kind, "fetch source", err)
	}
	input := filepath.Join(dir, sourceName)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, media.TranscodeError(media.Transient, "write source", err)
	}

	duration, err := e.probe(ctx, input)
	if err != nil {
		return nil, err
	}

	args := encodeArgs(spec, input, dir)
	e.log.Debug("running ffmpeg",
		slog.String("rendition", spec.ID()),
		slog.String("args", strings.Join(args, " ")))
	out, err := commandContext(ctx, e.ffmpeg, args...).CombinedOutput() //nolint:gosec
	if err != nil {
		return nil, classify(ctx, "encode", err, out)
	}

	entries, err := readChunkList(filepath.Join(dir, listName))
	if err != nil {
		return nil, media.TranscodeError(media.Permanent, "read chunk list", err)
	}

	ok = true
	return transcode.NewRendition(spec, duration, &chunkReader{dir: dir, entries: entries}, removeDir(dir)), nil
}

func (e *Encoder) probe(ctx context.Context, input string) (time.Duration, error) {
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", input}
	out, err := commandContext(ctx, e.ffprobe, args...).Output() //nolint:gosec
	if err != nil {
		return 0, classify(ctx, "probe", err, out)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || secs <= 0 {
		return 0, media.TranscodeError(media.Permanent, "probe", fmt.Errorf("unreadable duration %q", strings.TrimSpace(string(out))))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// encodeArgs scales to the rendition height at its bitrate, forces a keyframe
// on every segment boundary and lets the segment muxer cut there.
func encodeArgs(spec media.RenditionSpec, input, dir string) []string {
	seg := strconv.FormatFloat(spec.SegmentDuration.Seconds(), 'f', -1, 64)
	kbps := spec.BitrateKbps
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=-2:%d", spec.Height),
		"-c:v", "libx264", "-preset", "veryfast",
		"-b:v", fmt.Sprintf("%dk", kbps),
		"-maxrate", fmt.Sprintf("%dk", kbps),
		"-bufsize", fmt.Sprintf("%dk", kbps*2),
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%s)", seg),
		"-sc_threshold", "0",
		"-c:a", "aac", "-b:a", "128k", "-ac", "2",
		"-f", "segment",
		"-segment_time", seg,
		"-segment_format", "mpegts",
		"-segment_list", filepath.Join(dir, listName),
		"-segment_list_type", "csv",
		"-reset_timestamps", "1",
		filepath.Join(dir, chunkGlob),
	}
}

// classify maps a failed ffmpeg/ffprobe run to a transcode error. Input the
// tools reject is permanent; a killed process or an expired deadline is worth
// another attempt.
func classify(ctx context.Context, op string, err error, output []byte) error {
	msg := strings.TrimSpace(string(output))
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	if msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return media.TranscodeError(media.Transient, op, err)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return media.TranscodeError(media.Permanent, op, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed by a signal (OOM killer, node pressure)
		if exitErr.ExitCode() == -1 {
			return media.TranscodeError(media.Transient, op, err)
		}
		return media.TranscodeError(media.Permanent, op, err)
	}
	return media.TranscodeError(media.Transient, op, err)
}

type removeDir string

func (d removeDir) Close() error { return os.RemoveAll(string(d)) }
