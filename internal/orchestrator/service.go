package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/manifest"
	"abr-pipeline/internal/media"
	"abr-pipeline/internal/notify"
	"abr-pipeline/internal/platform/metrics"
	"abr-pipeline/internal/transcode"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSourceTooLarge    = errors.New("source exceeds maximum upload size")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrAssetNotFound     = errors.New("asset not found")
	ErrShuttingDown      = errors.New("orchestrator is shutting down")
	ErrInvalidAsset      = errors.New("invalid asset")
)

const (
	reasonCancelled = "cancelled"
	reasonShutdown  = "shutdown"

	cleanupTimeout = 30 * time.Second
	notifyTimeout  = 10 * time.Second
)

// Config holds the orchestrator's tunables.
type Config struct {
	Collections map[media.CollectionKind]media.CollectionConfig
	Keys        media.Keyspace
	// MaxSourceBytes rejects larger sources at ingestion; 0 disables the check.
	MaxSourceBytes int64
	Workers        int
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
}

func (c *Config) setDefaults() {
	if c.Keys == (media.Keyspace{}) {
		c.Keys = media.DefaultKeyspace()
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
}

// Recorder is the external asset record the orchestrator keeps informed of
// runs it starts. Terminal transitions reach it as notify events.
type Recorder interface {
	MarkProcessing(ctx context.Context, assetID, collection string, generation int, runID string) error
	Generation(ctx context.Context, assetID string) (int, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics records pipeline metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNotifier sets who hears about terminal transitions.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithRecorder sets the external asset record.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRepository replaces the in-memory run table.
func WithRepository(r Repository) Option {
	return func(o *Orchestrator) { o.repo = r }
}

// Orchestrator drives assets from ingestion to a published manifest.
type Orchestrator struct {
	cfg        Config
	store      blob.Store
	transcoder transcode.Transcoder
	pool       *Pool
	repo       Repository
	log        *slog.Logger
	metrics    *metrics.Metrics
	notifier   notify.Notifier
	recorder   Recorder

	// mu orders ingestion against Shutdown: runs register under the read
	// lock, closed flips under the write lock.
	mu     sync.RWMutex
	closed bool
	runs   sync.WaitGroup
}

// New starts an Orchestrator with cfg.Workers pool workers.
func New(cfg Config, store blob.Store, tc transcode.Transcoder, opts ...Option) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		transcoder: tc,
		repo:       NewInMemoryRepository(),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.pool = NewPool(cfg.Workers)
	return o
}

// AssetHandle refers to one accepted pipeline run.
type AssetHandle struct {
	AssetID    string `json:"asset_id"`
	RunID      string `json:"run_id"`
	Generation int    `json:"generation"`

	run *Run
}

// Done is closed once the run reaches Ready or Failed.
func (h *AssetHandle) Done() <-chan struct{} { return h.run.done }

// Wait blocks until the run finishes or ctx is done.
func (h *AssetHandle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.run.done:
		h.run.mu.Lock()
		defer h.run.mu.Unlock()
		return h.run.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Ingest validates req, plans its renditions and queues one job per rendition
// in plan order. Everything that can be rejected is rejected here, before any
// job is scheduled; the run's result arrives later through the handle and the
// notifier.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*AssetHandle, error) {
	if err := media.ValidateAssetID(req.AssetID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	cfg, ok := o.cfg.Collections[req.Collection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, req.Collection)
	}
	if o.cfg.MaxSourceBytes > 0 && req.SourceSize > o.cfg.MaxSourceBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrSourceTooLarge, req.SourceSize, o.cfg.MaxSourceBytes)
	}
	specs, err := media.Plan(cfg)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", req.Collection, err)
	}
	if req.SourceKey == "" {
		req.SourceKey = o.cfg.Keys.Original(req.Collection, req.AssetID)
	}

	seed, err := o.seedGeneration(ctx, req)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrShuttingDown
	}

	run := newRun(context.Background(), req, cfg, uuid.NewString())
	if err := o.repo.Begin(run, seed); err != nil {
		run.cancel()
		return nil, err
	}
	o.runs.Add(1)

	run.setState(AssetPlanning)
	jobs := make([]*job, 0, len(specs))
	tasks := make([]func(), 0, len(specs))
	for _, spec := range specs {
		j := &job{
			run:     run,
			spec:    spec,
			backoff: retry.WithCappedDuration(o.cfg.RetryMax, retry.NewExponential(o.cfg.RetryBase)),
		}
		jobs = append(jobs, j)
		tasks = append(tasks, o.task(j))
	}
	run.mu.Lock()
	run.jobs = jobs
	run.mu.Unlock()
	run.remaining.Store(int32(len(jobs)))

	if o.recorder != nil {
		if err := o.recorder.MarkProcessing(ctx, run.id, string(run.kind), run.generation, run.runID); err != nil {
			o.log.Warn("record processing", slog.String("asset_id", run.id), slog.String("error", err.Error()))
		}
	}
	if o.metrics != nil {
		o.metrics.IncAssetsIngested(string(run.kind))
	}

	run.setState(AssetProcessing)
	if err := o.pool.Submit(tasks...); err != nil {
		run.requestCancel(reasonShutdown)
		for _, j := range jobs {
			o.finishJob(j, cancelledError(reasonShutdown))
		}
		return nil, ErrShuttingDown
	}

	o.log.Info("asset ingested",
		slog.String("asset_id", run.id),
		slog.String("collection", string(run.kind)),
		slog.String("run_id", run.runID),
		slog.Int("generation", run.generation),
		slog.Int("renditions", len(specs)),
	)
	return &AssetHandle{AssetID: run.id, RunID: run.runID, Generation: run.generation, run: run}, nil
}

// seedGeneration returns the highest generation already used for the asset
// outside this process: the records store's, or the published manifest's.
// The new run writes under a fresh generation directory, so guessing low
// would overwrite output a live manifest references; an unreadable manifest
// therefore fails the ingest.
func (o *Orchestrator) seedGeneration(ctx context.Context, req IngestRequest) (int, error) {
	seed := 0
	if o.recorder != nil {
		g, err := o.recorder.Generation(ctx, req.AssetID)
		if err != nil {
			o.log.Warn("read asset generation", slog.String("asset_id", req.AssetID), slog.String("error", err.Error()))
		} else {
			seed = g
		}
	}

	prior, err := manifest.Load(ctx, o.store, o.cfg.Keys, req.Collection, req.AssetID)
	switch {
	case errors.Is(err, blob.ErrNotFound):
	case err != nil:
		return 0, storageFailure("read published manifest", err)
	case prior.Generation > seed:
		seed = prior.Generation
	}
	return seed, nil
}

// Cancel aborts the asset's in-flight run. Jobs stop at their next
// suspension point and the run's output is cleaned up best-effort.
func (o *Orchestrator) Cancel(_ context.Context, assetID string) error {
	run, ok := o.repo.InFlight(assetID)
	if !ok {
		return ErrAssetNotFound
	}
	o.log.Info("asset cancel requested", slog.String("asset_id", assetID), slog.String("run_id", run.runID))
	run.requestCancel(reasonCancelled)
	return nil
}

// Status returns a snapshot of the asset's latest run.
func (o *Orchestrator) Status(assetID string) (AssetStatus, bool) {
	run, ok := o.repo.Latest(assetID)
	if !ok {
		return AssetStatus{}, false
	}
	return run.Status(), true
}

// ActiveAssets returns the number of runs in flight.
func (o *Orchestrator) ActiveAssets() int { return o.repo.ActiveAssetCount() }

// PoolStats returns the worker pool's busy and queued counts.
func (o *Orchestrator) PoolStats() (busy, queued int) { return o.pool.Stats() }

// Manifest loads the asset's published manifest. Assets this process has not
// seen are looked up in every configured collection.
func (o *Orchestrator) Manifest(ctx context.Context, assetID string) (*manifest.Manifest, error) {
	if err := media.ValidateAssetID(assetID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	kinds := make([]media.CollectionKind, 0, len(o.cfg.Collections)+1)
	if run, ok := o.repo.Latest(assetID); ok {
		kinds = append(kinds, run.kind)
	}
	others := make([]media.CollectionKind, 0, len(o.cfg.Collections))
	for k := range o.cfg.Collections {
		others = append(others, k)
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })
	kinds = append(kinds, others...)

	for _, kind := range kinds {
		m, err := manifest.Load(ctx, o.store, o.cfg.Keys, kind, assetID)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, ErrAssetNotFound
}

// Playlist returns the asset's master playlist, or the media playlist of
// rendition when it is set. Playlists are only served once the manifest is
// published.
func (o *Orchestrator) Playlist(ctx context.Context, assetID, rendition string) ([]byte, error) {
	m, err := o.Manifest(ctx, assetID)
	if err != nil {
		return nil, err
	}
	key := m.Master
	if rendition != "" {
		r, ok := m.Rendition(rendition)
		if !ok {
			return nil, ErrAssetNotFound
		}
		key = r.Playlist
	}
	data, err := o.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrAssetNotFound
	}
	return data, err
}

// Shutdown stops accepting ingests, cancels in-flight runs and waits for them
// to finish and the pool to drain, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	for _, run := range o.repo.Running() {
		run.requestCancel(reasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.pool.Close()
	return o.pool.Wait(ctx)
}

// complete is the run's single terminal transition.
func (o *Orchestrator) complete(run *Run) {
	defer o.runs.Done()

	out := o.finalize(run)

	run.mu.Lock()
	run.state = out.State
	run.outcome = out
	run.finishedAt = time.Now().UTC()
	if out.Err != nil && run.failErr == nil {
		run.failErr = out.Err
	}
	run.mu.Unlock()

	o.repo.Finish(run)
	if o.metrics != nil {
		o.metrics.IncAssetsFinished(string(out.State))
		o.metrics.SetActiveAssets(o.repo.ActiveAssetCount())
	}

	attrs := []any{
		slog.String("asset_id", run.id),
		slog.String("collection", string(run.kind)),
		slog.String("run_id", run.runID),
		slog.String("state", string(out.State)),
	}
	if out.Err != nil {
		attrs = append(attrs, slog.String("rendition", out.Rendition), slog.String("error", out.Err.Error()))
	} else {
		attrs = append(attrs, slog.String("manifest_key", out.ManifestKey))
	}
	o.log.Info("asset finished", attrs...)

	o.emit(run, out)
	close(run.done)
	run.cancel()
}

// finalize decides the outcome once every job has finished. Only a run
// without failures publishes, and the manifest goes out last.
func (o *Orchestrator) finalize(run *Run) Outcome {
	if reason := run.cancelledBy(); reason != "" {
		if reason == reasonCancelled {
			o.cleanup(run)
		}
		return Outcome{State: AssetFailed, Err: cancelledError(reason)}
	}

	run.mu.Lock()
	failErr, failJob := run.failErr, run.failJob
	results := make([]manifest.Result, 0, len(run.jobs))
	for _, j := range run.jobs {
		results = append(results, manifest.Result{Spec: j.spec, Segments: j.segments})
	}
	run.mu.Unlock()

	if failErr != nil {
		return Outcome{State: AssetFailed, Err: failErr, Rendition: failJob}
	}

	in := manifest.Input{
		AssetID:    run.id,
		Collection: run.kind,
		Generation: run.generation,
		RunID:      run.runID,
		Keys:       o.cfg.Keys,
		Results:    results,
	}
	if run.cfg.KeepOriginal {
		in.Original = run.source.Key
	}
	m, err := manifest.Build(in)
	if err != nil {
		return Outcome{State: AssetFailed, Err: media.SegmentationError("build manifest", err)}
	}

	if err := manifest.Publish(run.ctx, o.store, o.cfg.Keys, m); err != nil {
		if run.ctx.Err() != nil {
			return Outcome{State: AssetFailed, Err: cancelledError(run.cancelledBy())}
		}
		return Outcome{State: AssetFailed, Err: storageFailure("publish manifest", err)}
	}
	manifestKey := o.cfg.Keys.Manifest(run.kind, run.id)

	if !run.cfg.KeepOriginal {
		if err := o.store.Delete(run.ctx, run.source.Key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			o.log.Warn("delete original", slog.String("asset_id", run.id), slog.String("key", run.source.Key), slog.String("error", err.Error()))
		}
	}
	if n, err := manifest.Prune(run.ctx, o.store, o.cfg.Keys, m); err != nil {
		o.log.Warn("prune stale output", slog.String("asset_id", run.id), slog.String("error", err.Error()))
	} else if n > 0 {
		o.log.Debug("pruned stale output", slog.String("asset_id", run.id), slog.Int("keys", n))
	}

	return Outcome{State: AssetReady, ManifestKey: manifestKey, Manifest: m}
}

// cleanup removes what a cancelled run uploaded. Only the run's generation
// directory is touched, so a previously published manifest stays intact.
// Failures are logged and dropped.
func (o *Orchestrator) cleanup(run *Run) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	log := o.log.With(slog.String("asset_id", run.id), slog.String("run_id", run.runID))

	keys, err := o.store.List(ctx, o.cfg.Keys.RunPrefix(run.kind, run.id, run.generation))
	if err != nil {
		log.Warn("cleanup cancelled run", slog.String("error", err.Error()))
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, k := range keys {
		g.Go(func() error { return o.store.Delete(gctx, k) })
	}
	if err := g.Wait(); err != nil {
		log.Warn("cleanup cancelled run", slog.String("error", err.Error()))
		return
	}
	log.Info("cleaned up cancelled run", slog.Int("keys", len(keys)))
}

func (o *Orchestrator) emit(run *Run, out Outcome) {
	if o.notifier == nil {
		return
	}
	ev := notify.Event{
		Type:       notify.EventReady,
		AssetID:    run.id,
		Collection: string(run.kind),
		RunID:      run.runID,
		Generation: run.generation,
		At:         time.Now().UTC(),
	}
	if out.State == AssetReady {
		ev.ManifestKey = out.ManifestKey
	} else {
		ev.Type = notify.EventFailed
		ev.Reason = out.Err.Error()
		ev.Rendition = out.Rendition
		ev.ErrorClass = media.ClassName(out.Err)
		ev.Transient = media.IsTransient(out.Err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := o.notifier.Notify(ctx, ev); err != nil {
		o.log.Warn("notify", slog.String("asset_id", run.id), slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
	}
}
