package ffmpeg

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"abr-pipeline/internal/transcode"
)

type chunkEntry struct {
	file     string
	duration time.Duration
}

// readChunkList parses the segment muxer's CSV list: file,start,end per line.
func readChunkList(path string) ([]chunkEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseChunkList(f)
}

func parseChunkList(r io.Reader) ([]chunkEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	var out []chunkEntry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		start, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: start: %w", rec[0], err)
		}
		end, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: end: %w", rec[0], err)
		}
		out = append(out, chunkEntry{
			file:     filepath.Base(rec[0]),
			duration: time.Duration((end - start) * float64(time.Second)).Round(time.Microsecond),
		})
	}
	if len(out) == 0 {
		return nil, errors.New("segment list is empty")
	}
	return out, nil
}

// chunkReader serves one packet per chunk file, read lazily.
type chunkReader struct {
	dir     string
	entries []chunkEntry
	next    int
}

func (c *chunkReader) ReadPacket() (transcode.Packet, error) {
	if c.next >= len(c.entries) {
		return transcode.Packet{}, io.EOF
	}
	e := c.entries[c.next]
	data, err := os.ReadFile(filepath.Join(c.dir, e.file))
	if err != nil {
		return transcode.Packet{}, fmt.Errorf("read chunk %s: %w", e.file, err)
	}
	c.next++
	return transcode.Packet{Duration: e.duration, Data: data}, nil
}
