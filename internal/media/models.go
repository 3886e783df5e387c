package media

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CollectionKind names a configured upload collection (e.g. "media", "videos").
type CollectionKind string

const (
	KindMedia  CollectionKind = "media"
	KindVideos CollectionKind = "videos"
)

// Resolution is one row of a collection's rendition table.
// Size is the output height in pixels, Bitrate the video bitrate in kbps.
type Resolution struct {
	Size    int `json:"size" toml:"size"`
	Bitrate int `json:"bitrate" toml:"bitrate"`
}

// CollectionConfig is the per-collection packaging configuration.
type CollectionConfig struct {
	Resolutions     []Resolution
	SegmentDuration time.Duration
	KeepOriginal    bool
}

// RenditionSpec is one (resolution, bitrate) target plus the collection's
// segment duration. It is derived from configuration and never persisted on
// its own.
type RenditionSpec struct {
	Height          int           `json:"height"`
	BitrateKbps     int           `json:"bitrate_kbps"`
	SegmentDuration time.Duration `json:"segment_duration"`
}

// ID returns the stable rendition identifier used in keys and URLs, e.g. "240p_250k".
func (s RenditionSpec) ID() string {
	return fmt.Sprintf("%dp_%dk", s.Height, s.BitrateKbps)
}

// Width returns the 16:9 width for the rendition height, rounded to an even number.
func (s RenditionSpec) Width() int {
	w := (s.Height*16 + 8) / 9
	if w%2 != 0 {
		w++
	}
	return w
}

// Segment describes one stored chunk of a rendition.
type Segment struct {
	RenditionID string        `json:"rendition_id"`
	Index       int           `json:"index"`
	Key         string        `json:"key"`
	Duration    time.Duration `json:"duration"`
	Size        int64         `json:"size"`
	Checksum    string        `json:"checksum"`
}

var errInvalidAssetID = errors.New("invalid asset id")

// ValidateAssetID rejects ids that cannot be used as a single key component.
func ValidateAssetID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", errInvalidAssetID)
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", errInvalidAssetID, id)
	}
	return nil
}
