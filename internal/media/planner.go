package media

// Plan expands a collection's resolution table into rendition specs, one per
// entry, in the order given. The order becomes the manifest's rendition order,
// which players use for default and fallback selection.
//
// Plan is a pure function of cfg. It fails with a ConfigError when the table is
// empty, the segment duration is not positive, an entry has a non-positive size
// or bitrate, or two entries would produce the same rendition id.
func Plan(cfg CollectionConfig) ([]RenditionSpec, error) {
	if len(cfg.Resolutions) == 0 {
		return nil, ConfigError("plan", "resolution table is empty")
	}
	if cfg.SegmentDuration <= 0 {
		return nil, ConfigError("plan", "segment duration must be positive, got %s", cfg.SegmentDuration)
	}

	specs := make([]RenditionSpec, 0, len(cfg.Resolutions))
	seen := make(map[string]int, len(cfg.Resolutions))
	for i, res := range cfg.Resolutions {
		if res.Size <= 0 || res.Bitrate <= 0 {
			return nil, ConfigError("plan", "resolution %d: size and bitrate must be positive (size=%d bitrate=%d)", i, res.Size, res.Bitrate)
		}
		spec := RenditionSpec{
			Height:          res.Size,
			BitrateKbps:     res.Bitrate,
			SegmentDuration: cfg.SegmentDuration,
		}
		if prev, dup := seen[spec.ID()]; dup {
			return nil, ConfigError("plan", "resolution %d duplicates resolution %d (%s)", i, prev, spec.ID())
		}
		seen[spec.ID()] = i
		specs = append(specs, spec)
	}
	return specs, nil
}
