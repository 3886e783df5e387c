package transcode

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	frameHeaderSize = 8
	// MaxPacketSize bounds a single frame payload.
	MaxPacketSize = 64 << 20
)

// ErrFrameTooLarge is returned for frames above MaxPacketSize.
var ErrFrameTooLarge = errors.New("packet frame too large")

// PacketWriter writes framed packets: uint32 duration in microseconds, uint32
// payload length, payload. All integers are big-endian.
type PacketWriter struct {
	w   io.Writer
	hdr [frameHeaderSize]byte
}

// NewPacketWriter returns a writer framing packets onto w.
func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{w: w}
}

// WritePacket writes one frame.
func (pw *PacketWriter) WritePacket(p Packet) error {
	if len(p.Data) > MaxPacketSize {
		return ErrFrameTooLarge
	}
	us := p.Duration.Microseconds()
	if us < 0 || us > int64(^uint32(0)) {
		return fmt.Errorf("packet duration out of range: %s", p.Duration)
	}
	binary.BigEndian.PutUint32(pw.hdr[0:4], uint32(us))
	binary.BigEndian.PutUint32(pw.hdr[4:8], uint32(len(p.Data)))
	if _, err := pw.w.Write(pw.hdr[:]); err != nil {
		return err
	}
	_, err := pw.w.Write(p.Data)
	return err
}

// FrameReader decodes framed packets.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader returns a PacketReader decoding frames from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadPacket implements PacketReader. A clean end between frames is io.EOF;
// an end inside a header or payload is io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadPacket() (Packet, error) {
	var hdr [frameHeaderSize]byte
	n, err := io.ReadFull(fr.r, hdr[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return Packet{}, io.EOF
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}

	size := binary.BigEndian.Uint32(hdr[4:8])
	if size > MaxPacketSize {
		return Packet{}, ErrFrameTooLarge
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}
	return Packet{
		Duration: time.Duration(binary.BigEndian.Uint32(hdr[0:4])) * time.Microsecond,
		Data:     data,
	}, nil
}
