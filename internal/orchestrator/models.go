package orchestrator

import (
	"time"

	"abr-pipeline/internal/manifest"
	"abr-pipeline/internal/media"
)

// AssetState is the lifecycle state of one pipeline run.
type AssetState string

const (
	AssetQueued     AssetState = "queued"
	AssetPlanning   AssetState = "planning"
	AssetProcessing AssetState = "processing"
	AssetReady      AssetState = "ready"
	AssetFailed     AssetState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s AssetState) Terminal() bool {
	return s == AssetReady || s == AssetFailed
}

// JobState is the phase of a rendition job. States are ordered and a job only
// ever moves forward; a retried attempt keeps the furthest phase reached.
type JobState int

const (
	JobPending JobState = iota
	JobTranscoding
	JobSegmenting
	JobUploading
	JobDone
	JobFailed
)

var jobStateNames = [...]string{"pending", "transcoding", "segmenting", "uploading", "done", "failed"}

func (s JobState) String() string {
	if int(s) < len(jobStateNames) {
		return jobStateNames[s]
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IngestRequest asks for one asset to be packaged.
type IngestRequest struct {
	AssetID    string               `json:"asset_id"`
	Collection media.CollectionKind `json:"collection"`
	// SourceKey defaults to the collection's original key for the asset.
	SourceKey  string `json:"source_key"`
	SourceSize int64  `json:"source_size"`
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State       AssetState
	ManifestKey string
	Manifest    *manifest.Manifest
	// Err and Rendition describe the first failure of a failed run.
	Err       error
	Rendition string
}

// JobStatus is a snapshot of one rendition job.
type JobStatus struct {
	Rendition string   `json:"rendition"`
	State     JobState `json:"state"`
	Attempts  int      `json:"attempts"`
	Segments  int      `json:"segments"`
	Error     string   `json:"error,omitempty"`
}

// AssetStatus is a snapshot of an asset's latest run.
type AssetStatus struct {
	AssetID     string               `json:"asset_id"`
	Collection  media.CollectionKind `json:"collection"`
	State       AssetState           `json:"state"`
	Generation  int                  `json:"generation"`
	RunID       string               `json:"run_id"`
	ManifestKey string               `json:"manifest_key,omitempty"`
	Error       string               `json:"error,omitempty"`
	Rendition   string               `json:"failed_rendition,omitempty"`
	Jobs        []JobStatus          `json:"jobs"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
}
