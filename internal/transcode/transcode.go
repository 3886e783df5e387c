// Package transcode defines the capability boundary to the external encoder.
//
// A Transcoder turns a source blob into one rendition: a declared total
// duration plus a finite stream of timed packets. The codec work itself is a
// black box; this package only fixes the contract, the failure classification
// the orchestrator's retry policy reads, and the framed packet codec the remote
// encoder service speaks.
//
// Implementations are chosen at startup (see the ffmpeg and remote
// subpackages); there is no runtime plugin discovery.
package transcode

import (
	"context"
	"io"
	"time"

	"abr-pipeline/internal/media"
)

// Source identifies the uploaded original by its blob key.
type Source struct {
	Key  string
	Size int64
}

// Packet is one timed unit of rendition output. Packets are never split by the
// segmenter, so encoders emit them on keyframe boundaries.
type Packet struct {
	Duration time.Duration
	Data     []byte
}

// PacketReader yields packets until io.EOF. A stream cut inside a packet
// reports io.ErrUnexpectedEOF.
type PacketReader interface {
	ReadPacket() (Packet, error)
}

// Transcoder produces one rendition of a source.
// Failures must be returned as media.TranscodeError so callers can tell
// Transient from Permanent.
type Transcoder interface {
	Transcode(ctx context.Context, src Source, spec media.RenditionSpec) (*Rendition, error)
}

// Func adapts a function to Transcoder.
type Func func(ctx context.Context, src Source, spec media.RenditionSpec) (*Rendition, error)

// Transcode implements Transcoder.
func (f Func) Transcode(ctx context.Context, src Source, spec media.RenditionSpec) (*Rendition, error) {
	return f(ctx, src, spec)
}

// Rendition is a transcoder's output for one spec. It is consumed once.
type Rendition struct {
	Spec     media.RenditionSpec
	Duration time.Duration
	Packets  PacketReader

	closer io.Closer
}

// NewRendition wraps packets with the declared duration. closer may be nil.
func NewRendition(spec media.RenditionSpec, duration time.Duration, packets PacketReader, closer io.Closer) *Rendition {
	return &Rendition{Spec: spec, Duration: duration, Packets: packets, closer: closer}
}

// Close releases the underlying stream.
func (r *Rendition) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// SliceReader serves packets from memory.
type SliceReader struct {
	packets []Packet
	next    int
}

// NewSliceReader returns a reader over packets.
func NewSliceReader(packets []Packet) *SliceReader {
	return &SliceReader{packets: packets}
}

// ReadPacket implements PacketReader.
func (r *SliceReader) ReadPacket() (Packet, error) {
	if r.next >= len(r.packets) {
		return Packet{}, io.EOF
	}
	p := r.packets[r.next]
	r.next++
	return p, nil
}
