package media

import (
	"fmt"
	"strings"
)

// Keyspace derives deterministic blob keys. Originals live under MediaPrefix
// and packaged output under SegmentsPrefix so the two can carry different
// lifecycle policies in the bucket.
type Keyspace struct {
	MediaPrefix    string
	SegmentsPrefix string
}

// DefaultKeyspace matches the prefixes of the original deployment.
func DefaultKeyspace() Keyspace {
	return Keyspace{MediaPrefix: "media", SegmentsPrefix: "segments"}
}

// Original is the key of an asset's source upload.
func (k Keyspace) Original(kind CollectionKind, assetID string) string {
	return joinKey(k.MediaPrefix, string(kind), assetID, "original")
}

// AssetPrefix is the directory-like prefix holding all packaged output of an asset.
func (k Keyspace) AssetPrefix(kind CollectionKind, assetID string) string {
	return joinKey(k.SegmentsPrefix, string(kind), assetID) + "/"
}

// RunPrefix holds everything one pipeline run of the asset writes except the
// manifest. Each run gets its own generation directory, so a later run never
// overwrites bytes an already published manifest points at.
func (k Keyspace) RunPrefix(kind CollectionKind, assetID string, generation int) string {
	return joinKey(k.SegmentsPrefix, string(kind), assetID, GenerationDir(generation)) + "/"
}

// RenditionPrefix holds one rendition's segments and media playlist.
func (k Keyspace) RenditionPrefix(kind CollectionKind, assetID string, generation int, spec RenditionSpec) string {
	return joinKey(k.SegmentsPrefix, string(kind), assetID, GenerationDir(generation), spec.ID()) + "/"
}

// Segment is the key of segment index of a rendition.
func (k Keyspace) Segment(kind CollectionKind, assetID string, generation int, spec RenditionSpec, index int) string {
	return joinKey(k.SegmentsPrefix, string(kind), assetID, GenerationDir(generation), spec.ID(), SegmentName(index))
}

// RenditionPlaylist is the key of a rendition's HLS media playlist.
func (k Keyspace) RenditionPlaylist(kind CollectionKind, assetID string, generation int, spec RenditionSpec) string {
	return joinKey(k.SegmentsPrefix, string(kind), assetID, GenerationDir(generation), spec.ID(), "index.m3u8")
}

// Master is the key of the HLS master playlist. It sits in the run's
// directory so its relative rendition URIs resolve to the same generation.
func (k Keyspace) Master(kind CollectionKind, assetID string, generation int) string {
	return joinKey(k.SegmentsPrefix, string(kind), assetID, GenerationDir(generation), "master.m3u8")
}

// Manifest is the key of the canonical asset descriptor. It is the one key
// shared by every run; replacing it is what switches readers to a new
// generation.
func (k Keyspace) Manifest(kind CollectionKind, assetID string) string {
	return joinKey(k.SegmentsPrefix, string(kind), assetID, "manifest.json")
}

// GenerationDir names a run's output directory.
func GenerationDir(generation int) string {
	return fmt.Sprintf("g%d", generation)
}

// SegmentName is the file name of a segment relative to its rendition prefix.
func SegmentName(index int) string {
	return fmt.Sprintf("%05d.ts", index)
}

func joinKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
