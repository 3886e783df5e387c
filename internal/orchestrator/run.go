package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"abr-pipeline/internal/media"
	"abr-pipeline/internal/transcode"

	"github.com/sethvargo/go-retry"
)

// Run is the orchestration record of one pipeline run for one asset. Its job
// counter and failure slot are private to the run; nothing is shared across
// assets.
type Run struct {
	id         string
	kind       media.CollectionKind
	cfg        media.CollectionConfig
	runID      string
	generation int
	source     transcode.Source
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	remaining atomic.Int32
	jobs      []*job

	mu      sync.Mutex
	state   AssetState
	failErr error
	failJob string
	// cancelReason is set once, before ctx is cancelled.
	cancelReason string
	finishedAt   time.Time
	outcome      Outcome
	done         chan struct{}
}

// job is one rendition of a run.
type job struct {
	run     *Run
	spec    media.RenditionSpec
	backoff retry.Backoff

	// guarded by run.mu
	state    JobState
	attempts int
	segments []media.Segment
	err      error
}

func newRun(parent context.Context, req IngestRequest, cfg media.CollectionConfig, runID string) *Run {
	ctx, cancel := context.WithCancel(parent)
	return &Run{
		id:        req.AssetID,
		kind:      req.Collection,
		cfg:       cfg,
		runID:     runID,
		source:    transcode.Source{Key: req.SourceKey, Size: req.SourceSize},
		startedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		state:     AssetQueued,
		done:      make(chan struct{}),
	}
}

// ID returns the asset id.
func (r *Run) ID() string { return r.id }

// Generation returns the run's generation number.
func (r *Run) Generation() int { return r.generation }

func (r *Run) setState(s AssetState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// advance moves j forward to s; it never moves a job backward.
func (j *job) advance(s JobState) {
	j.run.mu.Lock()
	if s > j.state && j.state < JobDone {
		j.state = s
	}
	j.run.mu.Unlock()
}

// recordFailure keeps the first failure of the run. It reports whether this
// call was the first.
func (r *Run) recordFailure(j *job, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return false
	}
	r.failErr = err
	r.failJob = j.spec.ID()
	return true
}

func (r *Run) requestCancel(reason string) {
	r.mu.Lock()
	if r.cancelReason == "" {
		r.cancelReason = reason
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *Run) cancelledBy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelReason
}

// Status returns a snapshot of the run.
func (r *Run) Status() AssetStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := AssetStatus{
		AssetID:     r.id,
		Collection:  r.kind,
		State:       r.state,
		Generation:  r.generation,
		RunID:       r.runID,
		ManifestKey: r.outcome.ManifestKey,
		Rendition:   r.failJob,
		Jobs:        make([]JobStatus, 0, len(r.jobs)),
		StartedAt:   r.startedAt,
	}
	if r.failErr != nil {
		st.Error = r.failErr.Error()
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		st.FinishedAt = &t
	}
	for _, j := range r.jobs {
		js := JobStatus{Rendition: j.spec.ID(), State: j.state, Attempts: j.attempts, Segments: len(j.segments)}
		if j.err != nil {
			js.Error = j.err.Error()
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}
