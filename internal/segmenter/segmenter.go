// Package segmenter slices a rendition's packet stream into fixed-duration
// chunks ready for upload.
package segmenter

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"abr-pipeline/internal/media"
	"abr-pipeline/internal/transcode"
)

// Chunk is one segment plus its payload.
type Chunk struct {
	media.Segment
	Data []byte
}

// KeyFunc maps a segment index to its blob key.
type KeyFunc func(index int) string

// Segmenter consumes a rendition once. Call Next until it returns io.EOF.
type Segmenter struct {
	packets  transcode.PacketReader
	target   time.Duration
	declared time.Duration
	id       string
	key      KeyFunc

	index   int
	emitted time.Duration
	seen    bool
	done    bool
}

// New returns a Segmenter cutting r into spec.SegmentDuration chunks.
func New(r *transcode.Rendition, key KeyFunc) *Segmenter {
	return &Segmenter{
		packets:  r.Packets,
		target:   r.Spec.SegmentDuration,
		declared: r.Duration,
		id:       r.Spec.ID(),
		key:      key,
	}
}

// Next returns the next chunk. Chunks are emitted with contiguous indices from
// 0. Chunk i ends at the packet boundary nearest (i+1)*target on the
// rendition's timeline: once the stream position comes within half a packet
// of that point the chunk closes. Packets are never split, and an encoder
// chunk that lands a frame short of the target still closes its own segment.
//
// At end of stream the emitted total is checked against the declared rendition
// duration; a difference above one segment duration, a truncated packet, or a
// packet without a positive duration fails with a SegmentationError.
func (s *Segmenter) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	if s.target <= 0 {
		s.done = true
		return Chunk{}, media.SegmentationError("segment", fmt.Errorf("segment duration must be positive, got %s", s.target))
	}
	if s.declared <= 0 {
		s.done = true
		return Chunk{}, media.SegmentationError("segment", fmt.Errorf("rendition %s declares no duration", s.id))
	}

	var (
		buf bytes.Buffer
		acc time.Duration
		sum = sha256.New()
	)
	boundary := time.Duration(s.index+1) * s.target
	for {
		p, err := s.packets.ReadPacket()
		if errors.Is(err, io.EOF) {
			s.done = true
			if err := s.checkTotal(s.emitted + acc); err != nil {
				return Chunk{}, err
			}
			if acc == 0 {
				return Chunk{}, io.EOF
			}
			break
		}
		if err != nil {
			s.done = true
			return Chunk{}, media.SegmentationError(fmt.Sprintf("read packet %d", s.index), err)
		}
		if p.Duration <= 0 {
			s.done = true
			return Chunk{}, media.SegmentationError("segment", fmt.Errorf("segment %d: packet with duration %s", s.index, p.Duration))
		}
		s.seen = true
		buf.Write(p.Data)
		sum.Write(p.Data)
		acc += p.Duration
		if s.emitted+acc >= boundary-p.Duration/2 {
			break
		}
	}

	c := Chunk{
		Segment: media.Segment{
			RenditionID: s.id,
			Index:       s.index,
			Duration:    acc,
			Size:        int64(buf.Len()),
			Checksum:    hex.EncodeToString(sum.Sum(nil)),
		},
		Data: buf.Bytes(),
	}
	if s.key != nil {
		c.Key = s.key(s.index)
	}
	s.index++
	s.emitted += acc
	return c, nil
}

func (s *Segmenter) checkTotal(total time.Duration) error {
	if !s.seen {
		return media.SegmentationError("segment", fmt.Errorf("rendition %s produced no packets", s.id))
	}
	diff := total - s.declared
	if diff < 0 {
		diff = -diff
	}
	if diff > s.target {
		return media.SegmentationError("segment", fmt.Errorf("rendition %s: stream ended at %s, declared %s", s.id, total, s.declared))
	}
	return nil
}

// Checksum returns the hex sha256 of data, matching Chunk.Checksum.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
