package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"abr-pipeline/internal/blob"
	"abr-pipeline/internal/media"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	types   map[string]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestStore_round_trip(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	s := NewWithAPI(api, "bucket")

	if err := s.Put(ctx, "segments/videos/a1/240p_250k/00000.ts", []byte("ts")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ct := api.types["segments/videos/a1/240p_250k/00000.ts"]; ct != "video/mp2t" {
		t.Errorf("content type %q", ct)
	}
	got, err := s.Get(ctx, "segments/videos/a1/240p_250k/00000.ts")
	if err != nil || string(got) != "ts" {
		t.Fatalf("Get: %q, %v", got, err)
	}
	ok, err := s.Exists(ctx, "segments/videos/a1/240p_250k/00000.ts")
	if err != nil || !ok {
		t.Fatalf("Exists: %v, %v", ok, err)
	}
	keys, err := s.List(ctx, "segments/videos/a1/")
	if err != nil || len(keys) != 1 {
		t.Fatalf("List: %v, %v", keys, err)
	}
	if err := s.Delete(ctx, "segments/videos/a1/240p_250k/00000.ts"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = s.Exists(ctx, "segments/videos/a1/240p_250k/00000.ts")
	if err != nil || ok {
		t.Fatalf("Exists after delete: %v, %v", ok, err)
	}
}

func TestStore_missing_key(t *testing.T) {
	s := NewWithAPI(newFakeAPI(), "bucket")
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if media.IsTransient(err) {
		t.Error("missing keys are permanent")
	}
}

func TestStore_network_failure_is_transient(t *testing.T) {
	api := newFakeAPI()
	api.putErr = errors.New("read: connection reset by peer")
	s := NewWithAPI(api, "bucket")

	err := s.Put(context.Background(), "k", []byte("v"))
	if !errors.Is(err, media.ErrStorage) || !media.IsTransient(err) {
		t.Fatalf("expected transient storage error, got %v", err)
	}
}
