package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"time"

	"abr-pipeline/internal/media"

	"github.com/pelletier/go-toml/v2"
)

//go:embed collections.toml
var defaultCollections []byte

type collectionsFile struct {
	Collections map[string]collectionEntry `toml:"collections"`
}

type collectionEntry struct {
	KeepOriginal    *bool              `toml:"keep_original"`
	SegmentDuration float64            `toml:"segment_duration"`
	Resolutions     []media.Resolution `toml:"resolutions"`
}

// Collections maps each upload collection to its packaging configuration.
type Collections map[media.CollectionKind]media.CollectionConfig

// DefaultCollections returns the built-in tables.
func DefaultCollections() Collections {
	c, err := parseCollections(bytes.NewReader(defaultCollections))
	if err != nil {
		panic(fmt.Sprintf("embedded collections.toml: %v", err))
	}
	return c
}

// LoadCollections parses the collections file at path. An empty path yields
// the built-in tables. Tables are not validated here; media.Plan rejects a bad
// one when an asset of that collection is ingested.
func LoadCollections(path string) (Collections, error) {
	if path == "" {
		return DefaultCollections(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open collections: %w", err)
	}
	defer f.Close()

	c, err := parseCollections(f)
	if err != nil {
		return nil, fmt.Errorf("parse collections %s: %w", path, err)
	}
	return c, nil
}

func parseCollections(r io.Reader) (Collections, error) {
	var file collectionsFile
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, err
	}
	if len(file.Collections) == 0 {
		return nil, fmt.Errorf("no collections defined")
	}

	out := make(Collections, len(file.Collections))
	for name, e := range file.Collections {
		keep := true
		if e.KeepOriginal != nil {
			keep = *e.KeepOriginal
		}
		out[media.CollectionKind(name)] = media.CollectionConfig{
			Resolutions:     e.Resolutions,
			SegmentDuration: time.Duration(e.SegmentDuration * float64(time.Second)),
			KeepOriginal:    keep,
		}
	}
	return out, nil
}
