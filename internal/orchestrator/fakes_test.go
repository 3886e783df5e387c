package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/media"
	"abr-pipeline/internal/notify"
	"abr-pipeline/internal/transcode"

	"github.com/stretchr/testify/require"
)

// fakeTranscoder emits duration/packet packets per rendition. Scripted
// errors are returned, one per call, before any output is produced.
type fakeTranscoder struct {
	duration time.Duration
	packet   time.Duration

	mu      sync.Mutex
	script  map[string][]error
	calls   map[string]int
	gate    chan struct{}
	barrier *sync.WaitGroup
}

func newFakeTranscoder(duration, packet time.Duration) *fakeTranscoder {
	return &fakeTranscoder{
		duration: duration,
		packet:   packet,
		script:   make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeTranscoder) failWith(rendition string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[rendition] = append(f.script[rendition], errs...)
}

// hold makes every call block until release.
func (f *fakeTranscoder) hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *fakeTranscoder) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *fakeTranscoder) callCount(rendition string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rendition]
}

func (f *fakeTranscoder) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeTranscoder) Transcode(ctx context.Context, src transcode.Source, spec media.RenditionSpec) (*transcode.Rendition, error) {
	f.mu.Lock()
	f.calls[spec.ID()]++
	var scripted error
	if q := f.script[spec.ID()]; len(q) > 0 {
		scripted = q[0]
		f.script[spec.ID()] = q[1:]
	}
	gate, barrier := f.gate, f.barrier
	f.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if scripted != nil {
		return nil, scripted
	}

	n := int(f.duration / f.packet)
	packets := make([]transcode.Packet, 0, n)
	for i := 0; i < n; i++ {
		packets = append(packets, transcode.Packet{
			Duration: f.packet,
			Data:     []byte(fmt.Sprintf("%s|%s|%d", src.Key, spec.ID(), i)),
		})
	}
	return transcode.NewRendition(spec, f.duration, transcode.NewSliceReader(packets), nil), nil
}

// flakyStore fails the first n puts under prefix with a transient error.
type flakyStore struct {
	*blob.MemoryStore

	mu     sync.Mutex
	prefix string
	left   int
	failed int
}

var errFlaky = errors.New("connection reset by peer")

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	if s.left > 0 && strings.HasPrefix(key, s.prefix) {
		s.left--
		s.failed++
		s.mu.Unlock()
		return media.StorageError(media.Transient, "put", errFlaky)
	}
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, key, data)
}

// eventLog collects notifications.
type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Notify(_ context.Context, ev notify.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) all() []notify.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notify.Event(nil), l.events...)
}

func (l *eventLog) count(assetID string, typ notify.EventType) int {
	n := 0
	for _, ev := range l.all() {
		if ev.AssetID == assetID && ev.Type == typ {
			n++
		}
	}
	return n
}

func videosConfig() media.CollectionConfig {
	return media.CollectionConfig{
		Resolutions: []media.Resolution{
			{Size: 144, Bitrate: 150},
			{Size: 240, Bitrate: 250},
			{Size: 300, Bitrate: 500},
		},
		SegmentDuration: time.Second,
		KeepOriginal:    true,
	}
}

func testConfig() Config {
	return Config{
		Collections: map[media.CollectionKind]media.CollectionConfig{
			media.KindVideos: videosConfig(),
		},
		Keys:           media.DefaultKeyspace(),
		MaxSourceBytes: 50_000_000,
		Workers:        3,
		MaxAttempts:    3,
		RetryBase:      time.Millisecond,
		RetryMax:       5 * time.Millisecond,
	}
}

type harness struct {
	orch   *Orchestrator
	store  blob.Store
	mem    *blob.MemoryStore
	tc     *fakeTranscoder
	events *eventLog
}

func newHarness(t *testing.T, cfg Config, store blob.Store, mem *blob.MemoryStore) *harness {
	t.Helper()
	if mem == nil {
		mem = blob.NewMemoryStore()
	}
	if store == nil {
		store = mem
	}
	h := &harness{
		store:  store,
		mem:    mem,
		tc:     newFakeTranscoder(10*time.Second, 500*time.Millisecond),
		events: &eventLog{},
	}
	h.orch = New(cfg, store, h.tc, WithNotifier(h.events))
	t.Cleanup(func() {
		h.tc.release()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) ingest(t *testing.T, assetID string) *AssetHandle {
	t.Helper()
	handle, err := h.orch.Ingest(context.Background(), IngestRequest{
		AssetID:    assetID,
		Collection: media.KindVideos,
		SourceSize: 1 << 20,
	})
	require.NoError(t, err)
	return handle
}

func wait(t *testing.T, handle *AssetHandle) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := handle.Wait(ctx)
	require.NoError(t, err)
	return out
}

func (h *harness) keys(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := h.mem.List(context.Background(), prefix)
	require.NoError(t, err)
	return keys
}
