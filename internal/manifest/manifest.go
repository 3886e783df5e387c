// Package manifest builds and publishes an asset's canonical descriptor and
// its HLS playlists.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/media"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoRenditions is returned when Build is given nothing to describe.
	ErrNoRenditions = errors.New("manifest has no renditions")

	// ErrNotContiguous is returned when a rendition's segment indices have a
	// gap or do not start at 0.
	ErrNotContiguous = errors.New("segment indices are not contiguous")
)

// Segment is one entry of a rendition's segment index.
type Segment struct {
	Index    int     `json:"index"`
	Key      string  `json:"key"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Checksum string  `json:"checksum"`
}

// Rendition is one variant and its segments, in index order.
type Rendition struct {
	ID              string    `json:"id"`
	Height          int       `json:"height"`
	Width           int       `json:"width"`
	BitrateKbps     int       `json:"bitrate_kbps"`
	SegmentDuration float64   `json:"segment_duration"`
	Playlist        string    `json:"playlist"`
	Duration        float64   `json:"duration"`
	Segments        []Segment `json:"segments"`
}

// Manifest is the asset's canonical descriptor. It is written once per
// pipeline run and superseded, never edited, by a later run.
type Manifest struct {
	AssetID    string               `json:"asset_id"`
	Collection media.CollectionKind `json:"collection"`
	Generation int                  `json:"generation"`
	RunID      string               `json:"run_id"`
	Original   string               `json:"original,omitempty"`
	Master     string               `json:"master"`
	Renditions []Rendition          `json:"renditions"`
}

// Result is what one finished rendition job hands to the builder.
type Result struct {
	Spec     media.RenditionSpec
	Segments []media.Segment
}

// Input collects everything Build needs.
type Input struct {
	AssetID    string
	Collection media.CollectionKind
	Generation int
	RunID      string
	// Original is the retained source key; empty when the source is not kept.
	Original string
	Keys     media.Keyspace
	// Results in plan order.
	Results []Result
}

// Build assembles the manifest. It is deterministic in its input: renditions
// keep the order given, segments are sorted by index, and a rendition whose
// indices are not exactly 0..n-1 is rejected.
func Build(in Input) (*Manifest, error) {
	if len(in.Results) == 0 {
		return nil, ErrNoRenditions
	}

	m := &Manifest{
		AssetID:    in.AssetID,
		Collection: in.Collection,
		Generation: in.Generation,
		RunID:      in.RunID,
		Original:   in.Original,
		Master:     in.Keys.Master(in.Collection, in.AssetID, in.Generation),
		Renditions: make([]Rendition, 0, len(in.Results)),
	}
	for _, res := range in.Results {
		segs := make([]media.Segment, len(res.Segments))
		copy(segs, res.Segments)
		sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })

		if len(segs) == 0 || len(contiguousRun(segs)) != len(segs) {
			return nil, fmt.Errorf("rendition %s: %w", res.Spec.ID(), ErrNotContiguous)
		}

		r := Rendition{
			ID:              res.Spec.ID(),
			Height:          res.Spec.Height,
			Width:           res.Spec.Width(),
			BitrateKbps:     res.Spec.BitrateKbps,
			SegmentDuration: res.Spec.SegmentDuration.Seconds(),
			Playlist:        in.Keys.RenditionPlaylist(in.Collection, in.AssetID, in.Generation, res.Spec),
			Segments:        make([]Segment, 0, len(segs)),
		}
		for _, s := range segs {
			r.Segments = append(r.Segments, Segment{
				Index:    s.Index,
				Key:      s.Key,
				Duration: s.Duration.Seconds(),
				Size:     s.Size,
				Checksum: s.Checksum,
			})
			r.Duration += s.Duration.Seconds()
		}
		m.Renditions = append(m.Renditions, r)
	}
	return m, nil
}

// contiguousRun returns the prefix of segs whose indices run 0, 1, 2, ...
// without a gap. segs must be sorted by index.
func contiguousRun(segs []media.Segment) []media.Segment {
	for i := range segs {
		if segs[i].Index != i {
			return segs[:i]
		}
	}
	return segs
}

// Rendition returns the rendition with the given id.
func (m *Manifest) Rendition(id string) (Rendition, bool) {
	for _, r := range m.Renditions {
		if r.ID == id {
			return r, true
		}
	}
	return Rendition{}, false
}

// Publish writes the playlists and then the manifest. The manifest goes last so
// that a reader who finds it can rely on every key it names being present.
func Publish(ctx context.Context, store blob.Store, ks media.Keyspace, m *Manifest) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, r := range m.Renditions {
		g.Go(func() error {
			if err := store.Put(gctx, r.Playlist, []byte(MediaPlaylist(r))); err != nil {
				return fmt.Errorf("write playlist %s: %w", r.ID, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := store.Put(gctx, m.Master, []byte(MasterPlaylist(m))); err != nil {
			return fmt.Errorf("write master playlist: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := store.Put(ctx, ks.Manifest(m.Collection, m.AssetID), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads a published manifest. It returns blob.ErrNotFound (possibly
// wrapped) when the asset has none.
func Load(ctx context.Context, store blob.Store, ks media.Keyspace, kind media.CollectionKind, assetID string) (*Manifest, error) {
	data, err := store.Get(ctx, ks.Manifest(kind, assetID))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", assetID, err)
	}
	return &m, nil
}

// Prune deletes keys under the asset's output prefix that m does not
// reference: earlier generations, and whatever failed or cancelled runs left
// behind. It returns the number of
// keys removed. Deletion stops at the first failure.
func Prune(ctx context.Context, store blob.Store, ks media.Keyspace, m *Manifest) (int, error) {
	keep := map[string]bool{
		ks.Manifest(m.Collection, m.AssetID): true,
		m.Master:                             true,
	}
	for _, r := range m.Renditions {
		keep[r.Playlist] = true
		for _, s := range r.Segments {
			keep[s.Key] = true
		}
	}

	keys, err := store.List(ctx, ks.AssetPrefix(m.Collection, m.AssetID))
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, k := range keys {
		if !keep[k] {
			stale = append(stale, k)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, k := range stale {
		g.Go(func() error { return store.Delete(gctx, k) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(stale), nil
}
