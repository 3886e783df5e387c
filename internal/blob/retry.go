package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"abr-pipeline/internal/media"

	"github.com/sethvargo/go-retry"
)

// RetryOptions bound the work spent on one store call.
type RetryOptions struct {
	Attempts int           // total tries, including the first
	Timeout  time.Duration // per attempt; 0 disables
	Base     time.Duration // first backoff delay
	Max      time.Duration // backoff cap
}

// DefaultRetryOptions returns 3 attempts, 30s each, 100ms..2s backoff.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{Attempts: 3, Timeout: 30 * time.Second, Base: 100 * time.Millisecond, Max: 2 * time.Second}
}

// Retrying wraps a Store with bounded retry and a per-attempt timeout.
// Every failure it returns is a media.StorageError carrying the final kind.
type Retrying struct {
	next Store
	opts RetryOptions
	log  *slog.Logger
}

// NewRetrying wraps next. Zero fields in opts take their defaults.
func NewRetrying(next Store, opts RetryOptions, log *slog.Logger) *Retrying {
	def := DefaultRetryOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.Base <= 0 {
		opts.Base = def.Base
	}
	if opts.Max <= 0 {
		opts.Max = def.Max
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retrying{next: next, opts: opts, log: log}
}

// Unwrap returns the wrapped store.
func (r *Retrying) Unwrap() Store { return r.next }

func (r *Retrying) backoff() retry.Backoff {
	b := retry.NewExponential(r.opts.Base)
	b = retry.WithCappedDuration(r.opts.Max, b)
	return retry.WithMaxRetries(uint64(r.opts.Attempts-1), b)
}

func (r *Retrying) do(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if r.opts.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		}
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		if Classify(err) == media.Transient && ctx.Err() == nil {
			r.log.Warn("storage call failed, retrying",
				slog.String("op", op),
				slog.String("key", key),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return media.StorageError(media.Permanent, op, fmt.Errorf("%s: %w", key, err))
	}
	var me *media.Error
	if errors.As(err, &me) && errors.Is(err, media.ErrStorage) {
		return err
	}
	return media.StorageError(Classify(err), op, fmt.Errorf("%s: %w", key, err))
}

// Put implements Store.
func (r *Retrying) Put(ctx context.Context, key string, data []byte) error {
	return r.do(ctx, "put", key, func(ctx context.Context) error {
		return r.next.Put(ctx, key, data)
	})
}

// Get implements Store.
func (r *Retrying) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "get", key, func(ctx context.Context) error {
		data, err := r.next.Get(ctx, key)
		out = data
		return err
	})
	return out, err
}

// Delete implements Store.
func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}

// Exists implements Store.
func (r *Retrying) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", key, func(ctx context.Context) error {
		v, err := r.next.Exists(ctx, key)
		ok = v
		return err
	})
	return ok, err
}

// List implements Store.
func (r *Retrying) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.do(ctx, "list", prefix, func(ctx context.Context) error {
		v, err := r.next.List(ctx, prefix)
		keys = v
		return err
	})
	return keys, err
}
