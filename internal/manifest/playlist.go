package manifest

import (
	"fmt"
	"math"
	"path"
	"strings"
)

// MediaPlaylist renders a rendition as an HLS VOD media playlist. Segment URIs
// are relative to the playlist, which sits next to its segments.
func MediaPlaylist(r Rendition) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(r.Segments))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n\n")

	for _, seg := range r.Segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		b.WriteString(path.Base(seg.Key))
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// MasterPlaylist lists every rendition of m in manifest order. Players treat
// the first entry as the default.
func MasterPlaylist(m *Manifest) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range m.Renditions {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", r.BitrateKbps*1000, r.Width, r.Height)
		b.WriteString(r.ID + "/index.m3u8\n")
	}
	return b.String()
}

// targetDuration is the ceiling of the longest segment, at least 1.
func targetDuration(segments []Segment) int {
	longest := 0.0
	for _, seg := range segments {
		if seg.Duration > longest {
			longest = seg.Duration
		}
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}
