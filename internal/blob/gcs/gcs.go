// Package gcs stores blobs in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/media"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Store implements blob.Store over one bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// Options configure the client. CredentialsFile may be empty to use
// application default credentials.
type Options struct {
	Bucket          string
	CredentialsFile string
	Endpoint        string
}

// New opens a client for opts.Bucket.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	var copts []option.ClientOption
	if opts.CredentialsFile != "" {
		copts = append(copts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		copts = append(copts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(opts.Bucket)}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Put implements blob.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	k, err := blob.CleanKey(key)
	if err != nil {
		return err
	}
	w := s.bucket.Object(k).NewWriter(ctx)
	w.ContentType = blob.ContentType(k)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return classify("put", err)
	}
	if err := w.Close(); err != nil {
		return classify("put", err)
	}
	return nil
}

// Get implements blob.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, classify("get", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify("get", err)
	}
	return data, nil
}

// Delete implements blob.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return classify("delete", err)
}

// Exists implements blob.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify("exists", err)
	}
	return true, nil
}

// List implements blob.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list", err)
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

func classify(op string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return media.StorageError(media.Permanent, op, fmt.Errorf("%w: %v", blob.ErrNotFound, err))
	}
	return media.StorageError(kindOf(err), op, err)
}

func kindOf(err error) media.Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests,
			gerr.Code == http.StatusRequestTimeout,
			gerr.Code >= 500:
			return media.Transient
		default:
			return media.Permanent
		}
	}
	return blob.Classify(err)
}
