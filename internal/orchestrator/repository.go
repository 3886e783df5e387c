package orchestrator

import (
	"errors"
	"sort"
	"sync"
)

// Repository is the concurrency-safe table of asset runs, keyed by asset id.
type Repository interface {
	// Begin registers run as the asset's in-flight run and assigns its
	// generation: one past the larger of the last known generation and seed.
	// It fails with ErrAlreadyProcessing while another run is in flight.
	Begin(run *Run, seed int) error

	// Finish clears the in-flight slot and keeps run as the asset's latest.
	Finish(run *Run)

	// InFlight returns the asset's running pipeline, if any.
	InFlight(assetID string) (*Run, bool)

	// Latest returns the in-flight run, or else the last finished one.
	Latest(assetID string) (*Run, bool)

	// Running lists every in-flight run ordered by asset id.
	Running() []*Run

	// ActiveAssetCount returns the number of in-flight runs. Used for metrics.
	ActiveAssetCount() int
}

// ErrAlreadyProcessing is returned when an asset already has a run in flight.
var ErrAlreadyProcessing = errors.New("asset is already processing")

type assetEntry struct {
	inFlight   *Run
	latest     *Run
	generation int
}

// InMemoryRepository is the in-process Repository.
type InMemoryRepository struct {
	mu     sync.RWMutex
	assets map[string]*assetEntry
}

// NewInMemoryRepository returns an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{assets: make(map[string]*assetEntry)}
}

// Begin implements Repository.Begin.
func (r *InMemoryRepository) Begin(run *Run, seed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.getOrCreateLocked(run.id)
	if entry.inFlight != nil {
		return ErrAlreadyProcessing
	}
	if seed > entry.generation {
		entry.generation = seed
	}
	entry.generation++
	run.generation = entry.generation
	entry.inFlight = run
	entry.latest = run
	return nil
}

// Finish implements Repository.Finish.
func (r *InMemoryRepository) Finish(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.assets[run.id]
	if !ok || entry.inFlight != run {
		return
	}
	entry.inFlight = nil
	entry.latest = run
}

// InFlight implements Repository.InFlight.
func (r *InMemoryRepository) InFlight(assetID string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.assets[assetID]
	if !ok || entry.inFlight == nil {
		return nil, false
	}
	return entry.inFlight, true
}

// Latest implements Repository.Latest.
func (r *InMemoryRepository) Latest(assetID string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.assets[assetID]
	if !ok || entry.latest == nil {
		return nil, false
	}
	return entry.latest, true
}

// Running implements Repository.Running.
func (r *InMemoryRepository) Running() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Run, 0)
	for _, entry := range r.assets {
		if entry.inFlight != nil {
			out = append(out, entry.inFlight)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ActiveAssetCount implements Repository.ActiveAssetCount.
func (r *InMemoryRepository) ActiveAssetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.assets {
		if entry.inFlight != nil {
			n++
		}
	}
	return n
}

// getOrCreateLocked returns the asset's entry, creating it if needed.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) getOrCreateLocked(assetID string) *assetEntry {
	if entry, ok := r.assets[assetID]; ok {
		return entry
	}
	entry := &assetEntry{}
	r.assets[assetID] = entry
	return entry
}
