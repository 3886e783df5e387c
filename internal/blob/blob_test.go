package blob

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"abr-pipeline/internal/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{"memory": NewMemoryStore(), "file": fs}
}

func TestStore_contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := "segments/videos/a1/240p_250k/00000.ts"

			ok, err := s.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, key, []byte("segment")))
			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("segment"), got)

			ok, err = s.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Delete(ctx, key))
			require.NoError(t, s.Delete(ctx, key), "delete of a missing key succeeds")
			ok, err = s.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_put_is_idempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := "segments/media/a1/manifest.json"
			require.NoError(t, s.Put(ctx, key, []byte(`{"a":1}`)))
			once, err := s.List(ctx, "")
			require.NoError(t, err)

			require.NoError(t, s.Put(ctx, key, []byte(`{"a":1}`)))
			twice, err := s.List(ctx, "")
			require.NoError(t, err)

			assert.Equal(t, once, twice)
			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(got))
		})
	}
}

func TestStore_List_prefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{
				"segments/videos/a1/144p_150k/00001.ts",
				"segments/videos/a1/144p_150k/00000.ts",
				"segments/videos/a1/master.m3u8",
				"segments/videos/a10/master.m3u8",
				"media/videos/a1/original",
			} {
				require.NoError(t, s.Put(ctx, k, []byte("x")))
			}

			keys, err := s.List(ctx, "segments/videos/a1/")
			require.NoError(t, err)
			assert.Equal(t, []string{
				"segments/videos/a1/144p_150k/00000.ts",
				"segments/videos/a1/144p_150k/00001.ts",
				"segments/videos/a1/master.m3u8",
			}, keys)

			keys, err = s.List(ctx, "segments/nothing/")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestFileStore_rejects_escaping_keys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, k := range []string{"../x", "a/../../x", "a/./b", "dir/"} {
		assert.Error(t, s.Put(context.Background(), k, []byte("x")), k)
	}
}

// flaky fails the first n Puts with a transient error.
type flaky struct {
	Store
	n     int32
	calls atomic.Int32
	err   error
}

func (f *flaky) Put(ctx context.Context, key string, data []byte) error {
	if f.calls.Add(1) <= f.n {
		return f.err
	}
	return f.Store.Put(ctx, key, data)
}

var fastRetry = RetryOptions{Attempts: 3, Timeout: time.Second, Base: time.Millisecond, Max: 5 * time.Millisecond}

func TestRetrying_transient_then_success(t *testing.T) {
	mem := NewMemoryStore()
	f := &flaky{Store: mem, n: 2, err: media.StorageError(media.Transient, "put", errors.New("503 slow down"))}
	r := NewRetrying(f, fastRetry, nil)

	require.NoError(t, r.Put(context.Background(), "k", []byte("v")))
	assert.Equal(t, int32(3), f.calls.Load())
	got, err := mem.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestRetrying_exhausts_budget(t *testing.T) {
	f := &flaky{Store: NewMemoryStore(), n: 10, err: errors.New("connection reset")}
	r := NewRetrying(f, fastRetry, nil)

	err := r.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrStorage)
	assert.True(t, media.IsTransient(err))
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestRetrying_permanent_not_retried(t *testing.T) {
	f := &flaky{Store: NewMemoryStore(), n: 10, err: media.StorageError(media.Permanent, "put", errors.New("access denied"))}
	r := NewRetrying(f, fastRetry, nil)

	err := r.Put(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, media.ErrStorage)
	assert.False(t, media.IsTransient(err))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestRetrying_Get_not_found(t *testing.T) {
	r := NewRetrying(NewMemoryStore(), fastRetry, nil)
	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, media.ErrStorage)
	assert.False(t, media.IsTransient(err))
}

func TestRetrying_stops_on_cancel(t *testing.T) {
	f := &flaky{Store: NewMemoryStore(), n: 10, err: errors.New("timeout")}
	r := NewRetrying(f, RetryOptions{Attempts: 5, Base: time.Hour, Max: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Put(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, media.IsTransient(err))
}
