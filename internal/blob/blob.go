// Package blob is the storage adapter: a narrow put/get/delete/list contract
// over an object store addressed by deterministic keys.
package blob

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"path"
	"strings"

	"abr-pipeline/internal/media"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// Store is an object store. Keys are slash separated. Put overwrites, so
// writing identical bytes under the same key twice is indistinguishable from
// writing once. Delete of a missing key succeeds.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Classify decides whether a store failure is worth retrying.
// Errors already classified by a backend keep their kind.
func Classify(err error) media.Kind {
	var me *media.Error
	if errors.As(err, &me) {
		return me.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, fs.ErrInvalid),
		errors.Is(err, errInvalidKey):
		return media.Permanent
	case errors.Is(err, context.DeadlineExceeded):
		return media.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return media.Transient
	}
	// unknown I/O failures (disk full, reset connections) get the retry budget
	return media.Transient
}

var errInvalidKey = errors.New("invalid blob key")

// CleanKey validates key and returns it without leading slashes.
func CleanKey(key string) (string, error) {
	k := strings.TrimLeft(key, "/")
	if k == "" || strings.HasSuffix(k, "/") {
		return "", errInvalidKey
	}
	if path.Clean(k) != k {
		return "", errInvalidKey
	}
	for _, part := range strings.Split(k, "/") {
		if part == ".." || part == "." {
			return "", errInvalidKey
		}
	}
	return k, nil
}

// ContentType guesses the HTTP content type from a key's extension.
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".ts":
		return "video/mp2t"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
